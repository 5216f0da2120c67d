// ABOUTME: Subcommands of the heapgrok tool
// ABOUTME: inspect, classify, object, frames and convert

package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prateek/heapgrok/catalog"
	"github.com/prateek/heapgrok/frames"
	"github.com/prateek/heapgrok/heapdump"
	"github.com/prateek/heapgrok/heapdump/v8image"
	"github.com/prateek/heapgrok/memimage"
	"github.com/prateek/heapgrok/space"
	"github.com/prateek/heapgrok/walker"
)

func parseWord(s string) (uint64, error) {
	w, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad address %q", s)
	}
	return w, nil
}

func newInspectCmd(flags *globalFlags) *cobra.Command {
	var (
		roots   []string
		depth   int
		top     int
		timeout time.Duration
		skip    []string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Walk the object graph from the image roots and summarise it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if cmd.Flags().Changed("max-depth") {
				s.cfg.Walk.MaxDepth = depth
			}
			s.cfg.Walk.Skip = append(s.cfg.Walk.Skip, skip...)
			opts, err := s.cfg.WalkerOptions(s.log)
			if err != nil {
				return err
			}
			w, err := walker.New(s.dec, opts...)
			if err != nil {
				return err
			}

			words, err := rootWords(s.img, roots)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			g, err := w.Traverse(ctx, words)
			partial := false
			if err != nil {
				if g == nil || ctx.Err() == nil {
					return err
				}
				s.log.Warn("reporting partial graph", zap.Error(err))
				partial = true
			}

			rep := buildReport(s.img, g, top)
			rep.Partial = partial
			return writeJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringSliceVar(&roots, "root", nil, "Tagged root word; repeatable, replaces the image roots")
	cmd.Flags().IntVar(&depth, "max-depth", -1, "Expansion depth bound, negative for none")
	cmd.Flags().IntVar(&top, "top", 10, "Number of largest retainers to report, 0 to skip")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop the walk after this long and report what was found")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "Glob of field names whose edges are not followed")
	return cmd
}

func rootWords(im *memimage.Image, flagged []string) ([]uint64, error) {
	if len(flagged) > 0 {
		words := make([]uint64, 0, len(flagged))
		for _, r := range flagged {
			w, err := parseWord(r)
			if err != nil {
				return nil, err
			}
			words = append(words, w)
		}
		return words, nil
	}
	if len(im.Roots) == 0 {
		return nil, errors.New("image has no roots; pass --root")
	}
	words := make([]uint64, 0, len(im.Roots))
	for _, r := range im.Roots {
		words = append(words, r.Word)
	}
	return words, nil
}

func newClassifyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "classify ADDRESS...",
		Short: "Print the space and offset of addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Catalog == "" {
				return errors.New("catalog path is required")
			}
			cat, err := catalog.Load(cfg.Catalog)
			if err != nil {
				return err
			}
			resolver := space.NewResolver(cat, cfg.ResolverOptions()...)

			out := make([]locationView, 0, len(args))
			for _, a := range args {
				w, err := parseWord(a)
				if err != nil {
					return err
				}
				addr := memimage.Address(w)
				out = append(out, viewLocation(addr, resolver.Classify(addr)))
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newObjectCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "object WORD",
		Short: "Decode the object a tagged pointer refers to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseWord(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			obj, err := s.dec.Decode(w)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), viewObject(obj))
		},
	}
}

func newFramesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "frames",
		Short: "Label the stack frame records in the image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			a := frames.New(s.cat, frames.WithLogger(s.log))
			return writeJSON(cmd.OutOrStdout(), viewFrames(a.Annotate(s.img.Frames)))
		},
	}
}

func newConvertCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "convert IN OUT",
		Short: "Rewrite an image in another format",
		Long:  "Rewrite an image in another format. The output format follows OUT's extension (.json or anything else for the binary format) unless --format is given.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			im, err := heapdump.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer im.Close()

			if format == "" {
				format = "v8image"
				if strings.EqualFold(filepath.Ext(args[1]), ".json") {
					format = "json"
				}
			}
			var encode func(io.Writer, *memimage.Image) error
			switch format {
			case "json":
				encode = heapdump.EncodeJSON
			case "v8image":
				encode = v8image.Encode
			default:
				return errors.Errorf("unknown output format %q", format)
			}

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			err = encode(out, im)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output format: json or v8image")
	return cmd
}
