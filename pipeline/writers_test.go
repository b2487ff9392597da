package pipeline

import (
	"bufio"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-scrape-gallery/models"
)

func sampleRows() []models.Row {
	location := "Berlin"
	size := 2.5
	return []models.Row{
		{
			SearchTopic: "Pixel art",
			PageNum:     0,
			ImageRecord: models.ImageRecord{
				ImagePage:          "http://gallery.test/art/1",
				ImageURL:           "http://images.test/1.png",
				Title:              "Sunset, again",
				Author:             "artist",
				Favs:               340,
				Comments:           2,
				Views:              12500,
				PrivateCollections: 0,
				Tags:               []string{"pixel", "sunset"},
				Location:           &location,
				SizeMB:             &size,
				PublishedDate:      "2023-01-02T03:04:05.000Z",
			},
		},
		{
			SearchTopic: "Pixel art",
			PageNum:     1,
			ImageRecord: models.ImageRecord{
				ImagePage:     "http://gallery.test/art/2",
				ImageURL:      "http://images.test/2.png",
				Title:         "Night",
				Author:        "other",
				PublishedDate: "2023-02-02T03:04:05.000Z",
			},
		},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "images_db.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("validate should fail before any row")
	}
	if err := writer.Write(sampleRows()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	if len(records[0]) != len(models.Columns) || records[0][0] != "search_topic" || records[0][17] != "image_license" {
		t.Fatalf("unexpected header: %v", records[0])
	}

	first := records[1]
	if first[4] != "Sunset, again" || first[6] != "340" || first[8] != "12500" {
		t.Fatalf("unexpected first row: %v", first)
	}
	if first[10] != `["pixel","sunset"]` {
		t.Fatalf("tags cell=%q", first[10])
	}
	if first[11] != "Berlin" || first[12] != "" || first[14] != "2.5" {
		t.Fatalf("optional cells=%q/%q/%q", first[11], first[12], first[14])
	}
	if second := records[2]; second[1] != "1" || second[10] != "[]" || second[14] != "" {
		t.Fatalf("unexpected second row: %v", second)
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images_db.json")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write(sampleRows()); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	var decoded []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		decoded = append(decoded, row)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("lines=%d, want 2", len(decoded))
	}
	for _, column := range models.Columns {
		if _, ok := decoded[0][column]; !ok {
			t.Fatalf("column %q missing from %v", column, decoded[0])
		}
	}
	if decoded[0]["search_topic"] != "Pixel art" || decoded[0]["image_views"] != float64(12500) {
		t.Fatalf("unexpected first row: %v", decoded[0])
	}
	if tags, ok := decoded[1]["tags"].([]any); !ok || len(tags) != 0 {
		t.Fatalf("tags=%#v, want empty list", decoded[1]["tags"])
	}
	if decoded[1]["location"] != nil {
		t.Fatalf("location=%v, want null", decoded[1]["location"])
	}
}

func TestDualWriterWritesBoth(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "images_db.csv")
	jsonPath := filepath.Join(dir, "images_db.json")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("validate should fail before any row")
	}
	if err := writer.Write(sampleRows()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, path := range []string{csvPath, jsonPath} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", path)
		}
	}
}

func TestSQLiteWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images_db.sqlite")

	writer, err := NewSQLiteWriter(path, "run-1")
	if err != nil {
		t.Fatalf("create sqlite writer: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("validate should fail before any row")
	}
	if err := writer.Write(sampleRows()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.WriteFailures([]models.ExtractionFailure{
		{Topic: "Pixel art", PageNum: 0, Link: "http://gallery.test/art/3", Reason: models.ReasonMalformedDocument},
	}); err != nil {
		t.Fatalf("write failures: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var tags string
	var location sql.NullString
	var size sql.NullFloat64
	if err := db.QueryRow(`SELECT tags, location, image_size FROM images WHERE image_page = ?`, "http://gallery.test/art/2").
		Scan(&tags, &location, &size); err != nil {
		t.Fatalf("query row: %v", err)
	}
	if tags != "[]" || location.Valid || size.Valid {
		t.Fatalf("tags=%q location=%v size=%v", tags, location, size)
	}

	var failures int
	if err := db.QueryRow(`SELECT COUNT(*) FROM failed_links WHERE run_id = ?`, "run-1").Scan(&failures); err != nil {
		t.Fatalf("count failures: %v", err)
	}
	if failures != 1 {
		t.Fatalf("failures=%d, want 1", failures)
	}
}

func TestWriteFailuresCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed_links.csv")
	failures := []models.ExtractionFailure{
		{Topic: "Pixel art", PageNum: 2, Link: "http://gallery.test/art/9", Reason: models.ReasonFetchFailed, Detail: "status 404"},
	}
	if err := WriteFailuresCSV(path, failures); err != nil {
		t.Fatalf("write failures: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	want := []string{"Pixel art", "2", "http://gallery.test/art/9", "FetchFailed", "status 404"}
	for i := range want {
		if records[1][i] != want[i] {
			t.Fatalf("record=%v, want %v", records[1], want)
		}
	}
}
