package reports

import (
	"archive/tar"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"rxfeedback/services/feedback"
)

const (
	sessionsFileName = "sessions.csv"
	summaryJSONName  = "summary.json"
	summaryTextName  = "summary.txt"

	archiveContentType = "application/zstd"
)

var csvHeader = []string{
	"session_id", "device_id", "status", "started_at", "completed_at",
	"pharmacy_rating", "employee_id", "employee", "employee_rating", "employee_comment",
	"suggestion", "client_first_name", "client_last_name", "client_email", "client_phone",
}

// WriteCSV writes one row per employee rating, or a single row for sessions
// without employee ratings. Contact details appear only with consent.
func WriteCSV(w io.Writer, records []feedback.Record, names map[string]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, rec := range records {
		base := []string{
			rec.ID.String(),
			rec.DeviceID,
			string(rec.Status),
			rec.StartedAt.UTC().Format(time.RFC3339),
			formatTime(rec.CompletedAt),
			formatInt(rec.PharmacyRating),
		}
		tail := []string{derefString(rec.Suggestion), "", "", "", ""}
		if c := rec.ClientData; c != nil && c.Consent {
			tail[1], tail[2], tail[3], tail[4] = c.FirstName, c.LastName, c.Email, c.Phone
		}

		if len(rec.EmployeeRatings) == 0 {
			row := append(append(append([]string{}, base...), "", "", "", ""), tail...)
			if err := cw.Write(row); err != nil {
				return err
			}
			continue
		}
		for _, er := range rec.EmployeeRatings {
			row := append([]string{}, base...)
			row = append(row, er.EmployeeID, names[er.EmployeeID], strconv.Itoa(er.Rating), er.Comment)
			row = append(row, tail...)
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// BuildArchive packs the CSV export and the rendered summaries into a
// zstd-compressed tar.
func BuildArchive(summary Summary, text string, records []feedback.Record, names map[string]string, now time.Time) ([]byte, error) {
	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, records, names); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}

	var out bytes.Buffer
	encoder, err := zstd.NewWriter(&out)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(encoder)

	entries := []struct {
		name string
		data []byte
	}{
		{summaryJSONName, summaryJSON},
		{summaryTextName, []byte(text)},
		{sessionsFileName, csvBuf.Bytes()},
	}
	for _, e := range entries {
		header := &tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Size:     int64(len(e.data)),
			ModTime:  now.UTC(),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			_ = encoder.Close()
			return nil, fmt.Errorf("write %s header: %w", e.name, err)
		}
		if _, err := tw.Write(e.data); err != nil {
			_ = encoder.Close()
			return nil, fmt.Errorf("write %s body: %w", e.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("close zstd: %w", err)
	}
	return out.Bytes(), nil
}

// ReadArchive unpacks an archive produced by BuildArchive into name → contents.
func ReadArchive(data []byte) (map[string][]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	files := map[string][]byte{}
	tr := tar.NewReader(decoder)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", header.Name, err)
		}
		files[header.Name] = body
	}
	return files, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
