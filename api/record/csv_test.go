package record

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCSV(t *testing.T) {
	tests := []struct {
		name       string
		recs       []Record
		fieldOrder []string
		want       string
	}{
		{
			name: "header from first record",
			recs: []Record{
				New(Field{"Name", "Acme"}, Field{"AnnualRevenue", "1000000"}),
				New(Field{"AnnualRevenue", "5"}, Field{"Name", "Globex"}),
			},
			want: "Name,AnnualRevenue\nAcme,1000000\nGlobex,5\n",
		},
		{
			name: "explicit order wins",
			recs: []Record{
				New(Field{"Name", "Acme"}, Field{"Phone", "555"}),
			},
			fieldOrder: []string{"Phone", "Name"},
			want:       "Phone,Name\n555,Acme\n",
		},
		{
			name: "nil and missing become empty",
			recs: []Record{
				New(Field{"Name", "Acme"}, Field{"Phone", nil}),
				New(Field{"Name", "Globex"}),
			},
			want: "Name,Phone\nAcme,\nGlobex,\n",
		},
		{
			name: "extra keys dropped",
			recs: []Record{
				New(Field{"Name", "Acme"}),
				New(Field{"Name", "Globex"}, Field{"Extra", "ignored"}),
			},
			want: "Name\nAcme\nGlobex\n",
		},
		{
			name: "quotes only when needed",
			recs: []Record{
				New(Field{"Name", "Acme, Inc."}, Field{"Note", `say "hi"`}, Field{"Plain", "x"}),
			},
			want: "Name,Note,Plain\n\"Acme, Inc.\",\"say \"\"hi\"\"\",x\n",
		},
		{
			name: "no records",
			recs: nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeCSV(tt.recs, tt.fieldOrder)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeCSV_HeaderEqualsFieldOrder(t *testing.T) {
	order := []string{"Id", "Name", "Email"}
	recs := []Record{
		New(Field{"Email", "a@example.com"}, Field{"Name", "A"}, Field{"Unused", "x"}),
		New(Field{"Name", "B"}),
	}

	got, err := EncodeCSV(recs, order)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Id,Name,Email", lines[0])
	assert.Equal(t, ",A,a@example.com", lines[1])
	assert.Equal(t, ",B,", lines[2])
}

func TestParseCSV(t *testing.T) {
	recs, err := ParseCSV("Name,Value\nA,1\nB,")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, []string{"Name", "Value"}, recs[0].Keys())
	assert.Equal(t, "A", recs[0].String("Name"))
	v, _ := recs[0].Get("Value")
	assert.Equal(t, "1", v)

	assert.Equal(t, "B", recs[1].String("Name"))
	v, ok := recs[1].Get("Value")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestParseCSV_EdgeCases(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		recs, err := ParseCSV("")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("header only", func(t *testing.T) {
		recs, err := ParseCSV("Name,Value\n")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("BOM stripped", func(t *testing.T) {
		recs, err := ParseCSV("\ufeffName\nAcme\n")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, []string{"Name"}, recs[0].Keys())
	})

	t.Run("ragged rows", func(t *testing.T) {
		recs, err := ParseCSV("A,B,C\n1\n1,2,3,4\n")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, []string{"A", "B", "C"}, recs[0].Keys())
		c, _ := recs[0].Get("C")
		assert.Nil(t, c)
		assert.Equal(t, 3, recs[1].Len())
	})

	t.Run("salesforce error columns", func(t *testing.T) {
		recs, err := ParseCSV("\"sf__Id\",\"sf__Error\",Name\n\"\",\"REQUIRED_FIELD_MISSING:Required fields are missing: [Name]:Name --\",\n")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "REQUIRED_FIELD_MISSING:Required fields are missing: [Name]:Name --", recs[0].String("sf__Error"))
	})
}

func TestCSVRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		recs       []Record
		fieldOrder []string
	}{
		{
			name: "simple",
			recs: []Record{
				New(Field{"Name", "Acme"}, Field{"AnnualRevenue", "1000000"}),
				New(Field{"Name", "Globex"}, Field{"AnnualRevenue", nil}),
			},
		},
		{
			name: "special characters",
			recs: []Record{
				New(Field{"Name", "Line\nBreak"}, Field{"Desc", `"quoted", with comma`}),
				New(Field{"Name", " leading space"}, Field{"Desc", "ünïcödé"}),
			},
		},
		{
			name: "restricted to field order",
			recs: []Record{
				New(Field{"A", "1"}, Field{"B", "2"}, Field{"C", "3"}),
				New(Field{"C", "6"}, Field{"A", "4"}),
			},
			fieldOrder: []string{"C", "A"},
		},
		{
			name: "single column with empty value",
			recs: []Record{
				New(Field{"Name", "A"}),
				New(Field{"Name", nil}),
				New(Field{"Name", "C"}),
			},
		},
		{
			name: "single column all empty",
			recs: []Record{New(Field{"Description", nil})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeCSV(tt.recs, tt.fieldOrder)
			require.NoError(t, err)

			decoded, err := ParseCSV(encoded)
			require.NoError(t, err)
			require.Len(t, decoded, len(tt.recs))

			header := Header(tt.recs, tt.fieldOrder)
			for i, rec := range tt.recs {
				want := rec.Project(header)
				assert.Equal(t, want.Keys(), decoded[i].Keys())
				for _, k := range header {
					wantV, _ := want.Get(k)
					gotV, _ := decoded[i].Get(k)
					assert.Equal(t, wantV, gotV, "record %d field %s", i, k)
				}
			}
		})
	}
}

func TestEncodeCSV_SingleEmptyColumn(t *testing.T) {
	encoded, err := EncodeCSV([]Record{
		New(Field{"Name", "A"}),
		New(Field{"Name", ""}),
		New(Field{"Name", nil}),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Name\nA\n\"\"\n\"\"\n", encoded)
	assert.Equal(t, 4, CountLines(encoded))
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, CountLines(""))
	assert.Equal(t, 0, CountLines("\n\n"))
	assert.Equal(t, 1, CountLines("Name\n"))
	assert.Equal(t, 2, CountLines("Name\nAcme\n"))
}
