// SPDX-License-Identifier: GPL-2.0-or-later

package framepairs

import (
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"framepairs/pkg/record"
	"framepairs/pkg/video"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// inspect reads every record, verifies the checksums
// and the record schema, and prints a line per record.
func inspect(cmd *cobra.Command, args []string) error {
	extractDir, err := cmd.Flags().GetString("extract")
	if err != nil {
		return err
	}
	pixFmt, err := cmd.Flags().GetString("pix_fmt")
	if err != nil {
		return err
	}
	if extractDir != "" {
		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			return fmt.Errorf("create extract directory: %w", err)
		}
	}

	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	out := cmd.OutOrStdout()
	r := record.NewReader(file)

	var count int
	var payload uint64
	for {
		data, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		rec, err := record.Decode(data)
		if err != nil {
			return fmt.Errorf("record %v: %w", count, err)
		}
		fmt.Fprintf(out, "%v: %vx%vx%v %v+%v bytes\n",
			count, rec.Width, rec.Height, rec.Channels(),
			len(rec.Images[0]), len(rec.Images[1]))

		if extractDir != "" {
			pair := rec.Frames()
			for i, frame := range []video.Frame{pair.First, pair.Second} {
				name := fmt.Sprintf("%06d_%v.png", count, i)
				if err := writePNG(filepath.Join(extractDir, name), frame, pixFmt); err != nil {
					return fmt.Errorf("record %v: %w", count, err)
				}
			}
		}

		count++
		payload += uint64(len(data))
	}

	fmt.Fprintf(out, "%v records, %v\n", count, humanize.Bytes(payload))
	return nil
}

func writePNG(path string, frame video.Frame, pixFmt string) error {
	img, err := frame.Image(pixFmt)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("encode %v: %w", path, err)
	}
	return file.Close()
}
