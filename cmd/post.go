package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bmayton/chainpost/pkg/chainpost"
)

func (c *cli) postCmd() *cobra.Command {
	var unit, timestamp, tzoffset string

	cmd := &cobra.Command{
		Use:   "post DEVICE METRIC VALUE",
		Short: "Post one reading",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[2], err)
			}

			opts := []chainpost.PostOption{
				chainpost.WithUnit(unit),
				chainpost.WithTZOffset(tzoffset),
			}
			if timestamp != "" {
				ts, err := parseTimestamp(timestamp)
				if err != nil {
					return err
				}
				opts = append(opts, chainpost.WithTimestamp(ts))
			}

			p, closeFn, err := c.newPoster()
			if err != nil {
				return err
			}
			defer closeFn()
			return p.PostData(cmd.Context(), args[0], args[1], value, opts...)
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "unit if the sensor has to be created (default depends on METRIC)")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "reading time, RFC 3339 or YYYY-MM-DDTHH:MM:SS[.ffffff] (default now, UTC)")
	cmd.Flags().StringVar(&tzoffset, "tzoffset", "", "offset such as -05:00 appended to the timestamp")
	return cmd
}

func (c *cli) postBatchCmd() *cobra.Command {
	var unit, tzoffset, file string

	cmd := &cobra.Command{
		Use:   "post-batch DEVICE METRIC",
		Short: "Post timestamp,value lines as one batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			samples, err := parseSamples(in)
			if err != nil {
				return err
			}

			p, closeFn, err := c.newPoster()
			if err != nil {
				return err
			}
			defer closeFn()
			if err := p.PostMultiple(cmd.Context(), args[0], args[1], samples,
				chainpost.WithUnit(unit),
				chainpost.WithTZOffset(tzoffset),
			); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "posted %d samples\n", len(samples))
			return nil
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "unit if the sensor has to be created (default depends on METRIC)")
	cmd.Flags().StringVar(&tzoffset, "tzoffset", "", "offset such as -05:00 appended to every timestamp")
	cmd.Flags().StringVarP(&file, "file", "f", "", "input file (default stdin)")
	return cmd
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 or a timestamp without offset, which is taken
// as UTC wall clock.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// parseSamples reads timestamp,value records. Blank lines and lines starting
// with # are skipped.
func parseSamples(r io.Reader) ([]chainpost.Sample, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	var samples []chainpost.Sample
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read samples: %w", err)
		}
		line, _ := cr.FieldPos(0)

		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value %q: %w", line, rec[1], err)
		}
		samples = append(samples, chainpost.Sample{Timestamp: ts, Value: value})
	}
	if len(samples) == 0 {
		return nil, errors.New("no samples")
	}
	return samples, nil
}
