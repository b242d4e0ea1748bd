package services

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/docstream-backend/internal/types"
)

func newTestExtractor(t *testing.T) TextExtractor {
	t.Helper()
	return NewContentExtractor(testLogger(t))
}

func TestExtractPlainText(t *testing.T) {
	e := newTestExtractor(t)

	ex, err := e.Extract("notes.txt", "text/plain", []byte("hello   world\n\nagain"))
	require.NoError(t, err)
	assert.Equal(t, "hello world again", ex.Text)
	assert.Equal(t, types.KindText, ex.Kind)
	assert.Len(t, ex.Fingerprint, 64)
}

func TestExtractFingerprintDependsOnBytesOnly(t *testing.T) {
	e := newTestExtractor(t)
	data := []byte("identical payload")

	a, err := e.Extract("first.txt", "text/plain", data)
	require.NoError(t, err)
	b, err := e.Extract("second.md", "", data)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint, b.Fingerprint, "same bytes, same fingerprint, regardless of name or mime")

	c, err := e.Extract("first.txt", "text/plain", []byte("different payload"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
}

func TestExtractClassifiesByContentNotExtension(t *testing.T) {
	e := newTestExtractor(t)

	ex, err := e.Extract("main.go", "", []byte("package main\n\nfunc main() {}\n"))
	require.NoError(t, err)
	assert.Equal(t, types.KindCode, ex.Kind)

	ex, err = e.Extract("table.csv", "text/csv", []byte("a,b,c\n1,2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, types.KindSpreadsheet, ex.Kind)

	ex, err = e.Extract("page.html", "text/html", []byte("<html><body><p>hi &amp; bye</p></body></html>"))
	require.NoError(t, err)
	assert.Equal(t, types.KindText, ex.Kind)
	assert.Equal(t, "hi & bye", ex.Text)
}

func TestExtractRejectsImages(t *testing.T) {
	e := newTestExtractor(t)
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

	_, err := e.Extract("photo.png", "image/png", png)
	assert.Error(t, err)

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}
	_, err = e.Extract("photo.jpg", "image/jpeg", jpeg)
	assert.Error(t, err)
}

func TestExtractRejectsClaimedButCorruptedPDF(t *testing.T) {
	e := newTestExtractor(t)

	// binary garbage claiming to be a pdf: no %PDF header
	data := []byte{0x00, 0x01, 0x02, 0x03, 0xFE, 0xFF}
	_, err := e.Extract("report.pdf", "application/pdf", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdf")
}

func TestExtractRejectsEmpty(t *testing.T) {
	e := newTestExtractor(t)
	_, err := e.Extract("void.txt", "text/plain", nil)
	assert.Error(t, err)
}

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?><document><body><p><r><t>` + body + `</t></r></p></body></document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	e := newTestExtractor(t)

	ex, err := e.Extract("memo.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", buildDOCX(t, "quarterly results"))
	require.NoError(t, err)
	assert.Equal(t, types.KindText, ex.Kind)
	assert.Equal(t, "quarterly results", ex.Text)
}

func TestExtractRejectsCorruptedOpenXML(t *testing.T) {
	e := newTestExtractor(t)

	// claims docx by extension but is not a zip container
	_, err := e.Extract("memo.docx", "", []byte("just some text, not a zip"))
	require.NoError(t, err, "readable text still extracts even under a misleading extension")

	_, err = e.Extract("memo.docx", "", []byte{0x00, 0x01, 0x02})
	assert.Error(t, err)
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", collapseWhitespace("a\n\n b\t\tc"))
	assert.Equal(t, "a b", collapseWhitespace("a b"))
	assert.Equal(t, "", collapseWhitespace("   \n\t "))
}
