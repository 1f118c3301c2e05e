package core

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	return []Record{
		RecordOf(
			Field{"name", "Black Galaxy"},
			Field{"basePrice", 125.5},
			Field{"stock", 40},
			Field{"active", true},
		),
		RecordOf(
			Field{"name", `Kashmir "White", honed`},
			Field{"basePrice", 1e6},
			Field{"stock", nil},
		),
	}
}

func TestRecord_KeepsOrder(t *testing.T) {
	var r Record
	r.Set("z", 1)
	r.Set("a", 2)
	r.Set("m", 3)
	r.Set("a", 4)

	assert.Equal(t, []string{"z", "a", "m"}, r.Keys())
	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 4, v)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":4,"m":3}`, string(data))
}

func TestRecord_UnmarshalKeepsNestedOrder(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"b":1,"a":{"y":true,"x":null},"c":[1,"two"]}`), &r))

	assert.Equal(t, []string{"b", "a", "c"}, r.Keys())
	nested, _ := r.Get("a")
	require.IsType(t, Record{}, nested)
	assert.Equal(t, []string{"y", "x"}, nested.(Record).Keys())

	arr, _ := r.Get("c")
	assert.Equal(t, []any{1.0, "two"}, arr)

	again, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":{"y":true,"x":null},"c":[1,"two"]}`, string(again))
}

func TestRecord_UnmarshalRejectsNonObject(t *testing.T) {
	var r Record
	assert.Error(t, r.UnmarshalJSON([]byte(`[1,2]`)))
}

func TestDecodeRecords(t *testing.T) {
	recs, err := DecodeRecords([]json.RawMessage{
		json.RawMessage(`{"_id":"1","name":"A"}`),
		json.RawMessage(`{"_id":"2","name":"B","extra":2}`),
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"_id", "name", "extra"}, recs[1].Keys())

	_, err = DecodeRecords([]json.RawMessage{json.RawMessage(`"nope"`)})
	assert.Error(t, err)
}

func TestExportCSV(t *testing.T) {
	blob, err := ExportCSV(sampleRecords(), DefaultCSVOptions())
	require.NoError(t, err)

	want := "name,basePrice,stock,active\n" +
		"Black Galaxy,125.5,40,true\n" +
		"\"Kashmir \"\"White\"\", honed\",1000000,,\n"
	assert.Equal(t, want, string(blob.Data))
	assert.Equal(t, "export.csv", blob.Name)
	assert.Equal(t, ContentTypeCSV, blob.ContentType)
}

func TestExportCSV_IsDeterministic(t *testing.T) {
	a, err := ExportCSV(sampleRecords(), DefaultCSVOptions())
	require.NoError(t, err)
	b, err := ExportCSV(sampleRecords(), DefaultCSVOptions())
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestExportCSV_Options(t *testing.T) {
	recs := []Record{RecordOf(
		Field{"name", "Slab; 3cm"},
		Field{"created", time.Date(2025, 3, 7, 15, 4, 0, 0, time.UTC)},
		Field{"note", "line\nbreak"},
	)}

	blob, err := ExportCSV(recs, CSVOptions{
		Delimiter:    ';',
		CustomFields: []string{"created", "name", "missing", "note"},
		FileName:     "slabs.csv",
	})
	require.NoError(t, err)

	assert.Equal(t, "3/7/2025;\"Slab; 3cm\";;\"line\nbreak\"\n", string(blob.Data), "no header without IncludeHeaders")
	assert.Equal(t, "slabs.csv", blob.Name)
}

func TestExportCSV_NestedValuesAsJSON(t *testing.T) {
	recs := []Record{RecordOf(
		Field{"finish", []any{"polished", "honed"}},
		Field{"dims", RecordOf(Field{"w", 1.5})},
	)}
	blob, err := ExportCSV(recs, CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, `"[""polished"",""honed""]","{""w"":1.5}"`+"\n", string(blob.Data))
}

func TestExportCSV_Empty(t *testing.T) {
	_, err := ExportCSV(nil, DefaultCSVOptions())
	assert.ErrorIs(t, err, ErrEmptyExport)
}

func TestExportJSON_RoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)

	for _, pretty := range []bool{false, true} {
		blob, err := ExportJSON(sampleRecords(), JSONOptions{
			IncludeMetadata: true,
			Pretty:          pretty,
			Now:             func() time.Time { return now },
		})
		require.NoError(t, err)
		assert.Equal(t, ContentTypeJSON, blob.ContentType)
		assert.Equal(t, "export.json", blob.Name)

		var doc struct {
			Metadata struct {
				ExportedAt   time.Time `json:"exportedAt"`
				TotalRecords int       `json:"totalRecords"`
				Format       string    `json:"format"`
				Version      string    `json:"version"`
			} `json:"metadata"`
		}
		require.NoError(t, json.Unmarshal(blob.Data, &doc))
		assert.True(t, now.Equal(doc.Metadata.ExportedAt))
		assert.Equal(t, 2, doc.Metadata.TotalRecords)
		assert.Equal(t, "json", doc.Metadata.Format)
		assert.Equal(t, "1.0", doc.Metadata.Version)
		assert.True(t, strings.HasPrefix(string(blob.Data), `{`))
		assert.Equal(t, pretty, strings.Contains(string(blob.Data), "\n  "))

		back, err := ParseJSONExport(blob.Data)
		require.NoError(t, err)
		require.Len(t, back, 2)
		assert.Equal(t, sampleRecords()[0].Keys(), back[0].Keys())
		name, _ := back[1].Get("name")
		assert.Equal(t, `Kashmir "White", honed`, name)
		price, _ := back[1].Get("basePrice")
		assert.Equal(t, 1e6, price)
	}
}

func TestExportJSON_WithoutMetadata(t *testing.T) {
	blob, err := ExportJSON([]Record{RecordOf(Field{"name", "A"})}, JSONOptions{})
	require.NoError(t, err)
	assert.Equal(t, `{"data":[{"name":"A"}]}`, string(blob.Data))
}

func TestExportJSON_EmptyIsAllowed(t *testing.T) {
	blob, err := ExportJSON(nil, JSONOptions{})
	require.NoError(t, err)
	assert.Equal(t, `{"data":[]}`, string(blob.Data))

	back, err := ParseJSONExport(blob.Data)
	require.NoError(t, err)
	assert.Empty(t, back)
}

func TestParseJSONExport_BareArray(t *testing.T) {
	recs, err := ParseJSONExport([]byte(` [{"b":1,"a":2}] `))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"b", "a"}, recs[0].Keys())

	_, err = ParseJSONExport([]byte(`{"data":`))
	assert.Error(t, err)
}

func TestTemplates(t *testing.T) {
	text, err := GenerateTemplate(EntityVariants)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "name,description,image", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Black Galaxy,"))

	blob, err := TemplateBlob(EntityHierarchy)
	require.NoError(t, err)
	assert.Equal(t, "hierarchy_template.csv", blob.Name)

	parsed, err := Parse(strings.NewReader(string(blob.Data)), DefaultParseOptions())
	require.NoError(t, err)
	out := Validate(parsed.Rows, EntityHierarchy)
	assert.True(t, out.IsValid(), "the example row passes validation: %v", out.Errors)

	_, err = GenerateTemplate("widgets")
	assert.ErrorIs(t, err, ErrUnknownEntity)
}
