package stats

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
	"github.com/ajitpratap0/geomirror/pkg/testutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCountRows_ThreeRowsTwoCountries(t *testing.T) {
	rows, countries, err := CountRows(context.Background(), strings.NewReader("US\tx\nUS\ty\nCA\tz\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)
	assert.Equal(t, 2, countries)
}

func TestCountRows_Empty(t *testing.T) {
	rows, countries, err := CountRows(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, rows)
	assert.Zero(t, countries)
}

func TestCountRows_Irregular(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		rows      int64
		countries int
	}{
		{"no trailing newline", "US\t1\nCA\t2", 2, 2},
		{"blank lines skipped", "US\t1\n\n\nCA\t2\n", 2, 2},
		{"varying columns", "US\t1\t2\t3\nCA\nFR\ta\n", 3, 3},
		{"bare quotes", "US\tSaint \"Paul\"\nUS\t\"x\n", 2, 1},
		{"crlf", "US\t1\r\nDE\t2\r\n", 2, 2},
		{"empty first field", "\tno country\n\tstill none\n", 2, 1},
		{"unicode", "JP\t東京\nJP\t大阪\n", 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, countries, err := CountRows(context.Background(), strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.rows, rows)
			assert.Equal(t, tt.countries, countries)
		})
	}
}

func TestCountRows_ReusedRecordKeysAreCopied(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&sb, "C%d\t%d\n", i%37, i)
	}
	rows, countries, err := CountRows(context.Background(), strings.NewReader(sb.String()))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rows)
	assert.Equal(t, 37, countries)
}

func TestCountRows_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(rt, "rows")
		distinct := make(map[string]struct{})

		var sb strings.Builder
		for i := 0; i < n; i++ {
			code := rapid.StringMatching(`[A-Z]{2}`).Draw(rt, "code")
			distinct[code] = struct{}{}
			sb.WriteString(code)
			sb.WriteString("\t")
			sb.WriteString(rapid.StringMatching(`[a-z0-9 ]{0,10}`).Draw(rt, "place"))
			sb.WriteString("\n")
		}

		rows, countries, err := CountRows(context.Background(), strings.NewReader(sb.String()))
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if rows != int64(n) {
			rt.Fatalf("rows = %d, want %d", rows, n)
		}
		if countries != len(distinct) {
			rt.Fatalf("countries = %d, want %d", countries, len(distinct))
		}
		if int64(countries) > rows {
			rt.Fatalf("countries %d exceeds rows %d", countries, rows)
		}
	})
}

func TestChecksum_KnownValues(t *testing.T) {
	dir := t.TempDir()

	sum, err := Checksum(writeFile(t, dir, "empty", ""))
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", sum)

	sum, err = Checksum(writeFile(t, dir, "abc", "abc"))
	require.NoError(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", sum)
}

func TestChecksum_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 3*checksumBlockSize).Draw(rt, "data")
		idx := rapid.IntRange(0, len(data)-1).Draw(rt, "idx")

		first, err := ChecksumReader(bytes.NewReader(data))
		if err != nil {
			rt.Fatal(err)
		}
		second, _ := ChecksumReader(bytes.NewReader(data))
		if first != second {
			rt.Fatalf("checksum not deterministic: %s != %s", first, second)
		}
		if len(first) != 32 || strings.ToLower(first) != first {
			rt.Fatalf("checksum %q is not 32 lowercase hex characters", first)
		}

		changed := append([]byte(nil), data...)
		changed[idx] ^= 0xff
		third, _ := ChecksumReader(bytes.NewReader(changed))
		if third == first {
			rt.Fatalf("changing byte %d did not change the checksum", idx)
		}
	})
}

func TestChecksum_MissingFile(t *testing.T) {
	_, err := Checksum(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.True(t, mirrorerrors.IsType(err, mirrorerrors.ErrorTypeFile))
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	table := writeFile(t, dir, "allCountries.txt", testutil.SampleTable())
	archive := writeFile(t, dir, "allCountries.zip", "archive-bytes")

	stats, err := NewCollector(testutil.TestLogger(t)).Collect(context.Background(), table, archive)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TotalEntries)
	assert.Equal(t, 2, stats.CountryCount)
	assert.Equal(t, int64(len("archive-bytes")), stats.FileSize)

	want, err := ChecksumReader(strings.NewReader("archive-bytes"))
	require.NoError(t, err)
	assert.Equal(t, want, stats.MD5Checksum)
}

func TestCollect_EmptyTable(t *testing.T) {
	dir := t.TempDir()
	stats, err := NewCollector(nil).Collect(context.Background(),
		writeFile(t, dir, "allCountries.txt", ""),
		writeFile(t, dir, "allCountries.zip", "x"))
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
	assert.Zero(t, stats.CountryCount)
}

func TestCollect_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	table := writeFile(t, dir, "allCountries.txt", "US\t1\n")

	_, err := NewCollector(nil).Collect(context.Background(), filepath.Join(dir, "absent.txt"), table)
	assert.True(t, mirrorerrors.IsType(err, mirrorerrors.ErrorTypeFile))

	_, err = NewCollector(nil).Collect(context.Background(), table, filepath.Join(dir, "absent.zip"))
	assert.True(t, mirrorerrors.IsType(err, mirrorerrors.ErrorTypeFile))
}
