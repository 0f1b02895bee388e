package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/urfave/cli/v2"

	pogg "github.com/ilya2ik/pogg"
)

func main() {
	logger := log.NewLogfmtLogger(os.Stderr)

	app := &cli.App{
		Name:  "oggdump",
		Usage: "dump the page structure of one or more Ogg files",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "packets", Usage: "also reassemble and count packets per logical stream"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "suppress resync warnings"},
		},
		ArgsUsage: "FILE...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("usage: oggdump FILE...", 1)
			}
			l := log.Logger(logger)
			if c.Bool("quiet") {
				l = log.NewNopLogger()
			}
			for _, path := range c.Args().Slice() {
				if err := dumpFile(path, l, c.Bool("packets")); err != nil {
					level.Error(logger).Log("event", "dump_failed", "file", path, "err", err)
					return cli.Exit(err, 1)
				}
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
}

func dumpFile(path string, logger log.Logger, countPackets bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := pogg.NewDecoder(f, pogg.WithLogger(logger))
	if err != nil {
		return err
	}
	defer dec.CloseAll()

	fmt.Printf("%s\n", path)
	for _, serial := range dec.KnownSerials() {
		fmt.Printf("  link serial %d (%#08x)\n", serial, serial)
	}

	packetCount := map[uint32]int64{}
	bodyBytes := map[uint32]int64{}
	pageCount := map[uint32]int64{}

	var totalPages, totalBytes int64
	for {
		p, err := dec.NextPage()
		if err != nil {
			break
		}
		totalPages++
		totalBytes += int64(len(p.Body))
		pageCount[p.Serial]++
		bodyBytes[p.Serial] += int64(len(p.Body))

		flags := ""
		if p.BOS {
			flags += "B"
		}
		if p.EOS {
			flags += "E"
		}
		if p.Continued {
			flags += "C"
		}
		fmt.Printf("  page serial=%d seq=%d granule=%d segs=%d body=%s flags=%s\n",
			p.Serial, p.Sequence, p.Granule, len(p.Lacing), humanize.Bytes(uint64(len(p.Body))), flags)
	}

	if countPackets {
		// Packet reassembly consumes pages through each Stream's own queue,
		// which the raw physical dump above has already drained, so it needs
		// its own Decoder over the same file.
		f2, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f2.Close()
		dec2, err := pogg.NewDecoder(f2, pogg.WithLogger(log.NewNopLogger()))
		if err != nil {
			return err
		}
		defer dec2.CloseAll()

		// Open every stream before draining any, so pages of the other
		// streams are queued rather than discarded.
		streams := map[uint32]*pogg.Stream{}
		for _, serial := range dec2.KnownSerials() {
			s, err := dec2.Open(serial)
			if err != nil {
				return err
			}
			streams[serial] = s
		}
		for serial, s := range streams {
			next := s.EachPacket()
			for {
				_, ok, err := next()
				if err != nil || !ok {
					break
				}
				packetCount[serial]++
			}
		}
	}

	fmt.Printf("  total: %s pages, %s\n", humanize.Comma(totalPages), humanize.Bytes(uint64(totalBytes)))
	for serial := range pageCount {
		if countPackets {
			fmt.Printf("  serial %d: %s pages, %s packets, %s\n", serial,
				humanize.Comma(pageCount[serial]), humanize.Comma(packetCount[serial]), humanize.Bytes(uint64(bodyBytes[serial])))
		} else {
			fmt.Printf("  serial %d: %s pages, %s\n", serial, humanize.Comma(pageCount[serial]), humanize.Bytes(uint64(bodyBytes[serial])))
		}
	}
	return nil
}
