package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehran282/off-board-v1/models"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVWriterSplitsByKind(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "nested", "out.csv")

	writer, err := NewCSVWriter(base)
	require.NoError(t, err)

	_, err = writer.Persist(ctx, flyer("abc", 22))
	require.NoError(t, err)
	_, err = writer.Persist(ctx, flyer("def", 4))
	require.NoError(t, err)
	out, err := writer.Persist(ctx, models.OfferRecord{
		URL: "https://www.kaufda.de/Angebote/o1", ProductName: "Butter", CurrentPrice: 1.99, Retailer: "REWE",
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindOffer, out.Kind)
	assert.False(t, out.Created)
	require.NoError(t, writer.Close())

	flyers := readCSV(t, filepath.Join(filepath.Dir(base), "out_flyer.csv"))
	require.Len(t, flyers, 3)
	assert.Equal(t, []string{"url", "content_id", "title", "pages"}, flyers[0][:4])
	assert.Equal(t, "https://www.kaufda.de/Prospekte/abc", flyers[1][0])
	assert.Equal(t, "22", flyers[1][3])

	offers := readCSV(t, writer.Path(models.KindOffer))
	require.Len(t, offers, 2)
	assert.Equal(t, "", offers[1][1], "absent content id is an empty cell")

	_, err = os.Stat(writer.Path(models.KindStore))
	assert.True(t, os.IsNotExist(err), "no file is created for kinds never written")
}

func TestJSONWriterTagsKind(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.jsonl")

	writer, err := NewJSONWriter(path)
	require.NoError(t, err)
	_, err = writer.Persist(ctx, flyer("abc", 22))
	require.NoError(t, err)
	_, err = writer.Persist(ctx, models.StoreRecord{Retailer: "Aldi Nord", Address: "Hauptstr. 1", City: "Berlin", PostalCode: "10115"})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, "flyer", lines[0]["kind"])
	assert.Equal(t, "REWE Prospekt", lines[0]["record"].(map[string]any)["title"])
	assert.Equal(t, "store", lines[1]["kind"])
	assert.Equal(t, "Hauptstr. 1", lines[1]["record"].(map[string]any)["address"])
}

func TestNewExportSink(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewExportSink("both", filepath.Join(dir, "out.jsonl"))
	require.NoError(t, err)
	_, err = sink.Persist(context.Background(), flyer("abc", 22))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	assert.FileExists(t, filepath.Join(dir, "out.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "out_flyer.csv"))

	_, err = NewExportSink("xml", filepath.Join(dir, "out.xml"))
	assert.Error(t, err)
}
