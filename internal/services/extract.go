package services

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/types"
)

// Extraction is the output of the content-extraction capability: the text
// the rest of the pipeline works with, a digest of the raw bytes used as
// the dedup key, and the classified file kind.
type Extraction struct {
	Text        string
	Fingerprint string
	Kind        string
}

type TextExtractor interface {
	Extract(originalName string, mimeType string, data []byte) (*Extraction, error)
}

type contentExtractor struct {
	log *logger.Logger
}

func NewContentExtractor(baseLog *logger.Logger) TextExtractor {
	return &contentExtractor{log: baseLog.With("service", "ContentExtractor")}
}

// Extract sniffs the true file type from bytes first (magic numbers beat
// declared mime/extension), extracts text accordingly, and fingerprints
// the raw bytes. Supported: PDF, DOCX, PPTX, TXT/MD, source code, CSV,
// HTML (strip tags). Images and unknown binaries carry no text and fail.
func (e *contentExtractor) Extract(originalName string, mimeType string, data []byte) (*Extraction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file: name=%s mime=%s", originalName, mimeType)
	}

	sum := sha256.Sum256(data)
	fingerprint := hex.EncodeToString(sum[:])

	ext := strings.ToLower(filepath.Ext(originalName))
	mt := strings.ToLower(strings.TrimSpace(mimeType))

	if isPDF(data) {
		text, err := extractPDF(data)
		if err != nil {
			return nil, err
		}
		return &Extraction{Text: text, Fingerprint: fingerprint, Kind: types.KindPDF}, nil
	}

	if isImage(data) {
		return nil, fmt.Errorf("image carries no extractable text: name=%s mime=%s", originalName, mimeType)
	}

	if isZip(data) {
		kind, err := detectOpenXMLKind(data)
		if err != nil {
			return nil, fmt.Errorf("zip/openxml detect failed: %w", err)
		}
		switch kind {
		case "docx":
			text, err := extractDOCX(data)
			if err != nil {
				return nil, err
			}
			return &Extraction{Text: text, Fingerprint: fingerprint, Kind: types.KindText}, nil
		case "pptx":
			text, err := extractPPTX(data)
			if err != nil {
				return nil, err
			}
			return &Extraction{Text: text, Fingerprint: fingerprint, Kind: types.KindText}, nil
		case "xlsx":
			text, err := extractXLSX(data)
			if err != nil {
				return nil, err
			}
			return &Extraction{Text: text, Fingerprint: fingerprint, Kind: types.KindSpreadsheet}, nil
		default:
			return nil, fmt.Errorf("unsupported zip/openxml kind=%s name=%s mime=%s", kind, originalName, mimeType)
		}
	}

	if looksLikeHTML(data) || mt == "text/html" || ext == ".html" || ext == ".htm" {
		return &Extraction{Text: stripHTML(string(data)), Fingerprint: fingerprint, Kind: types.KindText}, nil
	}

	if isProbablyText(data) {
		kind := types.KindText
		switch {
		case isCodeExt(ext):
			kind = types.KindCode
		case ext == ".csv" || ext == ".tsv" || mt == "text/csv":
			kind = types.KindSpreadsheet
		}
		return &Extraction{Text: collapseWhitespace(string(data)), Fingerprint: fingerprint, Kind: kind}, nil
	}

	// A mime/extension that claims a parseable format but failed the
	// magic-byte sniff is corrupted rather than merely unknown.
	if mt == "application/pdf" || ext == ".pdf" {
		return nil, fmt.Errorf("file claims pdf but missing %%PDF header: name=%s mime=%s head=%s", originalName, mimeType, firstBytesHex(data, 16))
	}
	if ext == ".docx" || ext == ".pptx" || ext == ".xlsx" {
		return nil, fmt.Errorf("file claims openxml but is not a valid zip container: name=%s mime=%s", originalName, mimeType)
	}

	return nil, fmt.Errorf("unsupported file type: name=%s ext=%s mime=%s head=%s", originalName, ext, mimeType, firstBytesHex(data, 16))
}

// ------------------------
// Sniff helpers
// ------------------------

func isPDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZip(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

func isImage(b []byte) bool {
	if len(b) >= 8 && bytes.Equal(b[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}) {
		return true
	}
	if len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF {
		return true
	}
	if len(b) >= 6 && (string(b[:6]) == "GIF87a" || string(b[:6]) == "GIF89a") {
		return true
	}
	return false
}

func looksLikeHTML(b []byte) bool {
	s := strings.ToLower(string(b[:minInt(len(b), 2048)]))
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "<!doctype") || strings.HasPrefix(trimmed, "<html") {
		return true
	}
	return strings.Contains(s, "<html") && strings.Contains(s, "</html>")
}

func isProbablyText(b []byte) bool {
	sample := b[:minInt(len(b), 4096)]
	nul := 0
	good := 0
	for _, c := range sample {
		if c == 0x00 {
			nul++
			continue
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	if nul > 0 {
		return false
	}
	return float64(good)/float64(len(sample)) > 0.9
}

var codeExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".java": true, ".c": true, ".h": true, ".cpp": true,
	".rs": true, ".rb": true, ".sh": true, ".sql": true, ".swift": true,
	".kt": true, ".cs": true,
}

func isCodeExt(ext string) bool { return codeExts[ext] }

func firstBytesHex(b []byte, n int) string {
	n = minInt(len(b), n)
	return hex.EncodeToString(b[:n])
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ------------------------
// Extractors
// ------------------------

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return collapseWhitespace(string(b)), nil
}

func detectOpenXMLKind(zipBytes []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return "", err
	}
	hasWord := false
	hasPpt := false
	hasXl := false
	for _, f := range zr.File {
		switch {
		case strings.HasPrefix(f.Name, "word/"):
			hasWord = true
		case strings.HasPrefix(f.Name, "ppt/"):
			hasPpt = true
		case strings.HasPrefix(f.Name, "xl/"):
			hasXl = true
		}
	}
	switch {
	case hasWord && !hasPpt && !hasXl:
		return "docx", nil
	case hasPpt && !hasWord && !hasXl:
		return "pptx", nil
	case hasXl && !hasWord && !hasPpt:
		return "xlsx", nil
	default:
		return "unknown", fmt.Errorf("zip does not look like a single openxml document")
	}
}

func extractDOCX(zipBytes []byte) (string, error) {
	return extractOpenXMLText(zipBytes, []string{"word/document.xml"})
}

func extractPPTX(zipBytes []byte) (string, error) {
	return extractOpenXMLTextByPrefix(zipBytes, "ppt/slides/", ".xml")
}

func extractXLSX(zipBytes []byte) (string, error) {
	// shared strings hold the text cells; numeric-only sheets yield nothing.
	return extractOpenXMLText(zipBytes, []string{"xl/sharedStrings.xml"})
}

func extractOpenXMLText(zipBytes []byte, files []string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, target := range files {
		f := findZipFile(zr, target)
		if f == nil {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		b, _ := io.ReadAll(rc)
		_ = rc.Close()
		out.WriteString(textFromXML(b))
		out.WriteString("\n")
	}
	s := collapseWhitespace(out.String())
	if s == "" {
		return "", fmt.Errorf("no text extracted from openxml")
	}
	return s, nil
}

func extractOpenXMLTextByPrefix(zipBytes []byte, prefix string, suffix string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, prefix) && strings.HasSuffix(f.Name, suffix) {
			rc, err := f.Open()
			if err != nil {
				return "", err
			}
			b, _ := io.ReadAll(rc)
			_ = rc.Close()
			out.WriteString(textFromXML(b))
			out.WriteString("\n")
		}
	}
	s := collapseWhitespace(out.String())
	if s == "" {
		return "", fmt.Errorf("no text extracted from openxml prefix %s", prefix)
	}
	return s, nil
}

func findZipFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// textFromXML gathers the contents of every <t> element, which carries the
// visible text in word, ppt and xl documents alike.
func textFromXML(xmlBytes []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(xmlBytes))
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "t" {
			continue
		}
		var v string
		_ = dec.DecodeElement(&v, &se)
		if v != "" {
			out.WriteString(v)
			out.WriteString(" ")
		}
	}
	return out.String()
}

var htmlTagRe = regexp.MustCompile(`(?s)<[^>]*>`)

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return collapseWhitespace(s)
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
