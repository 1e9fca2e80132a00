package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"qrtrust/internal/infra/watermark"
)

const defaultWatermarkCommand = "python3 watermark.py"

func newWatermarkAdapter(command string, timeout time.Duration) (*watermark.Adapter, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	return watermark.New(strings.Fields(command), timeout, log)
}

func runWatermarkEmbed(args []string) int {
	fs := flag.NewFlagSet("watermark embed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	var outPath string
	var text string
	var command string
	var timeout time.Duration

	fs.StringVar(&inPath, "in", "", "input image")
	fs.StringVar(&outPath, "out", "", "output image")
	fs.StringVar(&text, "text", "", "payload to embed, usually the QR token")
	fs.StringVar(&command, "command", defaultWatermarkCommand, "watermark tool command line")
	fs.DurationVar(&timeout, "timeout", time.Minute, "tool timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	adapter, err := newWatermarkAdapter(command, timeout)
	if err != nil {
		return fail("watermark: %v", err)
	}
	out, err := adapter.Embed(context.Background(), watermark.EmbedRequest{InputPath: inPath, OutputPath: outPath, Text: text})
	if err != nil {
		return fail("embed watermark: %v", err)
	}
	if out != "" {
		fmt.Println(out)
	}
	color.Green("watermarked image written to %s", outPath)
	return 0
}

func runWatermarkExtract(args []string) int {
	fs := flag.NewFlagSet("watermark extract", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	var command string
	var timeout time.Duration

	fs.StringVar(&inPath, "in", "", "watermarked image")
	fs.StringVar(&command, "command", defaultWatermarkCommand, "watermark tool command line")
	fs.DurationVar(&timeout, "timeout", time.Minute, "tool timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	adapter, err := newWatermarkAdapter(command, timeout)
	if err != nil {
		return fail("watermark: %v", err)
	}
	report, err := adapter.Extract(context.Background(), inPath)
	if err != nil {
		return fail("extract watermark: %v", err)
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fail("encode report: %v", err)
	}
	fmt.Println(string(payload))
	return 0
}
