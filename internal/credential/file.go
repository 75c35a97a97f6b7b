package credential

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const httpOnlyPrefix = "#HttpOnly_"

// FileSource reads a Netscape cookies.txt export. The file is re-read on
// every call so a fresh export is picked up without a restart.
type FileSource struct {
	path string
}

// NewFileSource returns a Source reading the cookies.txt file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Cookies parses the cookie file.
func (s *FileSource) Cookies(_ context.Context, _ string) ([]Cookie, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return parseNetscape(data)
}

func parseNetscape(data []byte) ([]Cookie, error) {
	var cookies []Cookie
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("cookie file line %d: expected 7 fields, got %d", lineNo, len(fields))
		}

		var expires time.Time
		if raw := strings.TrimSpace(fields[4]); raw != "" && raw != "0" {
			unix, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cookie file line %d: parse expiry: %w", lineNo, err)
			}
			expires = time.Unix(unix, 0).UTC()
		}

		cookies = append(cookies, Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Expires:  expires,
			Name:     fields[5],
			Value:    fields[6],
			HTTPOnly: httpOnly,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan cookie file: %w", err)
	}
	return cookies, nil
}

// NopSource never returns cookies. The initial token stays in effect.
type NopSource struct{}

// Cookies returns nothing.
func (NopSource) Cookies(context.Context, string) ([]Cookie, error) {
	return nil, nil
}
