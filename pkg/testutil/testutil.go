// Package testutil provides testing utilities for geomirror
package testutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// Member is one file of a test archive
type Member struct {
	Name string
	Body string
}

// BuildZip returns a deflate-compressed zip archive holding members in order
func BuildZip(t testing.TB, members ...Member) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: m.Name, Method: zip.Deflate})
		require.NoError(t, err)
		_, err = w.Write([]byte(m.Body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// PostalTable renders rows as a tab-separated GeoNames postal code table.
// Each row is padded to the 12 columns of the real dump.
func PostalTable(rows ...[]string) string {
	var sb strings.Builder
	for _, row := range rows {
		cols := make([]string, 12)
		copy(cols, row)
		sb.WriteString(strings.Join(cols, "\t"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// SampleTable is a small table with 3 rows and 2 distinct countries
func SampleTable() string {
	return PostalTable(
		[]string{"US", "99553", "Akutan", "Alaska", "AK"},
		[]string{"US", "99571", "Cold Bay", "Alaska", "AK"},
		[]string{"CA", "T0A", "Eastern Alberta", "Alberta", "AB"},
	)
}
