package extract_test

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/phrazzld/jobfit-api/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range []struct{ name, body string }{
		{"[Content_Types].xml", contentTypesXML},
		{"word/document.xml", documentXML},
	} {
		w, err := zw.Create(entry.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entry.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtract_PlainText(t *testing.T) {
	t.Parallel()

	doc, err := extract.Extract([]byte("Jane Doe\r\nGo engineer   \n\n\n\nSkills: Go, SQL\n"))
	require.NoError(t, err)
	assert.Equal(t, extract.MIMEText, doc.MIMEType)
	assert.Equal(t, "Jane Doe\nGo engineer\n\nSkills: Go, SQL", doc.Text)
}

func TestExtract_Docx(t *testing.T) {
	t.Parallel()

	body := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Jane Doe</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Senior </w:t></w:r><w:r><w:t>Engineer</w:t></w:r></w:p>
<w:p><w:r><w:t>Go</w:t><w:tab/><w:t>Kubernetes</w:t></w:r></w:p>
</w:body>
</w:document>`

	doc, err := extract.Extract(buildDocx(t, body))
	require.NoError(t, err)
	assert.Equal(t, extract.MIMEDOCX, doc.MIMEType)
	assert.Equal(t, "Jane Doe\nSenior Engineer\nGo\tKubernetes", doc.Text)
}

func TestExtract_Errors(t *testing.T) {
	t.Parallel()

	emptyDocx := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p/></w:body></w:document>`
	oleHeader := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 512)...)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty input", nil, extract.ErrEmptyDocument},
		{"whitespace only", []byte("  \n\t "), extract.ErrEmptyDocument},
		{"legacy word document", oleHeader, extract.ErrUnsupportedFormat},
		{"image", png, extract.ErrUnsupportedFormat},
		{"docx without text", buildDocx(t, emptyDocx), extract.ErrEmptyDocument},
		{"corrupt pdf", []byte("%PDF-1.4\nthis is not really a pdf"), extract.ErrUnreadableDocument},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc, err := extract.Extract(tc.data)
			assert.Nil(t, doc)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
