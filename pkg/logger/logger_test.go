package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/team13Uni/wedro/pkg/logger"
)

var _ = Describe("Logger", func() {
	Describe("New", func() {
		It("should create a logger from a nil config", func() {
			Expect(logger.New(nil)).NotTo(BeNil())
		})

		It("should write JSON records with the service attribute", func() {
			buf := &bytes.Buffer{}
			log := logger.New(&logger.Config{Output: buf, Service: "backend", Level: slog.LevelInfo})
			log.Info("rollup pass completed", "created", 3)

			var entry map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
			Expect(entry).To(HaveKeyWithValue("msg", "rollup pass completed"))
			Expect(entry).To(HaveKeyWithValue("service", "backend"))
			Expect(entry).To(HaveKeyWithValue("created", float64(3)))
			Expect(entry).To(HaveKey("time"))
			Expect(entry).To(HaveKey("level"))
		})

		It("should write plain text lines in text format", func() {
			buf := &bytes.Buffer{}
			log := logger.New(&logger.Config{Output: buf, Format: logger.FormatText, NoColor: true})
			log.Warn("skipping incomplete window", "found", 11, "expected", 12)

			line := buf.String()
			Expect(line).To(ContainSubstring("skipping incomplete window"))
			Expect(line).To(ContainSubstring("found=11"))
			Expect(line).To(ContainSubstring("expected=12"))
			Expect(strings.HasPrefix(strings.TrimSpace(line), "{")).To(BeFalse())
		})
	})

	DescribeTable("level filtering",
		func(level slog.Level, logFunc func(*slog.Logger), shouldAppear bool) {
			buf := &bytes.Buffer{}
			logFunc(logger.New(&logger.Config{Level: level, Output: buf}))
			Expect(strings.TrimSpace(buf.String()) != "").To(Equal(shouldAppear))
		},
		Entry("debug logged at debug", slog.LevelDebug, func(l *slog.Logger) { l.Debug("m") }, true),
		Entry("debug dropped at info", slog.LevelInfo, func(l *slog.Logger) { l.Debug("m") }, false),
		Entry("warn logged at info", slog.LevelInfo, func(l *slog.Logger) { l.Warn("m") }, true),
		Entry("info dropped at error", slog.LevelError, func(l *slog.Logger) { l.Info("m") }, false),
	)

	DescribeTable("ParseLevel",
		func(input string, expected slog.Level) {
			Expect(logger.ParseLevel(input)).To(Equal(expected))
		},
		Entry("debug", "debug", slog.LevelDebug),
		Entry("upper case", "WARN", slog.LevelWarn),
		Entry("warning", "warning", slog.LevelWarn),
		Entry("error", "error", slog.LevelError),
		Entry("unknown defaults to info", "verbose", slog.LevelInfo),
		Entry("empty defaults to info", "", slog.LevelInfo),
	)

	DescribeTable("ParseFormat",
		func(input string, expected logger.Format) {
			Expect(logger.ParseFormat(input)).To(Equal(expected))
		},
		Entry("text", "text", logger.FormatText),
		Entry("mixed case text", " Text ", logger.FormatText),
		Entry("json", "json", logger.FormatJSON),
		Entry("unknown defaults to json", "yaml", logger.FormatJSON),
	)

	It("should record the call site when AddSource is set", func() {
		buf := &bytes.Buffer{}
		logger.New(&logger.Config{Output: buf, AddSource: true}).Info("window committed")

		var entry map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
		Expect(entry).To(HaveKeyWithValue("source", HaveKeyWithValue("file", ContainSubstring("logger_test.go"))))
	})
})
