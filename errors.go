package pogg

import "github.com/pkg/errors"

// Sentinel errors for the framing layer. Errors recoverable by the sync
// buffer (bad capture pattern, checksum mismatch) never reach the caller as
// one of these; they are folded into a Resync event instead. These are the
// errors a caller can see and must handle.
var (
	// ErrShortRead names the byte source hitting EOF mid-page. No function
	// in this package returns it: a truncated final page shows up only as
	// io.EOF (end-of-stream) from NextPage and Stream.ReadPage.
	ErrShortRead = errors.New("pogg: short read, truncated page")

	// ErrBadCapturePattern means a page claimed to start with "OggS" but
	// didn't. Returned by ParsePage; the sync buffer recovers from it by
	// resyncing, so Decoder and SyncBuffer callers never see it.
	ErrBadCapturePattern = errors.New("pogg: bad capture pattern")

	// ErrBadVersion means the page's stream structure version byte wasn't 0.
	ErrBadVersion = errors.New("pogg: unsupported stream structure version")

	// ErrChecksum means the page's CRC32 did not match its contents.
	// Returned by ParsePage; the sync buffer recovers from it by resyncing,
	// so Decoder and SyncBuffer callers never see it.
	ErrChecksum = errors.New("pogg: checksum mismatch")

	// ErrUnknownSerialOnOpen is returned by Decoder.Open for a serial that
	// was never observed as a BOS page.
	ErrUnknownSerialOnOpen = errors.New("pogg: unknown serial number")

	// ErrUnknownStream is returned by Encoder methods given a serial that
	// was never returned by AddStream (or was already closed via CloseStream).
	ErrUnknownStream = errors.New("pogg: unknown output stream")

	// ErrDoubleOpen is returned by Decoder.Open when the serial is already open.
	ErrDoubleOpen = errors.New("pogg: logical stream already open")

	// ErrClosedResource is returned by Decoder.NextPage, Open, NextLink,
	// Seek, SeekStart, SeekEnd, Skip and Stream.SeekToGranule after
	// Decoder.CloseAll, and by Stream.ReadPacket once the stream or its
	// Decoder has been closed. Encoder methods do not return it: after
	// Encoder.Close its streams are gone, so Header, Packet, Flush and Write
	// report ErrUnknownStream.
	ErrClosedResource = errors.New("pogg: use of closed resource")

	// ErrSeekUnsupported is returned when a seek operation is attempted
	// against a byte source that does not implement io.Seeker.
	ErrSeekUnsupported = errors.New("pogg: underlying source does not support seeking")

	// ErrSegmentTableTooLarge is returned if a caller-constructed Page has
	// more than 255 lacing entries.
	ErrSegmentTableTooLarge = errors.New("pogg: segment table exceeds 255 entries")

	// ErrTruncated is returned by ParsePage when fewer bytes are available
	// than the page header declares.
	ErrTruncated = errors.New("pogg: truncated page")
)
