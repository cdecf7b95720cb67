package images

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// UploadedFile is a client upload held in memory. The MIME type is sniffed from the
// content, never taken from the client.
type UploadedFile struct {
	OriginalName string
	Content      []byte
	mime         *mimetype.MIME
}

func NewUploadedFile(originalName string, content []byte) *UploadedFile {
	return &UploadedFile{
		OriginalName: originalName,
		Content:      content,
		mime:         mimetype.Detect(content),
	}
}

func (f *UploadedFile) Size() int64 {
	return int64(len(f.Content))
}

func (f *UploadedFile) MimeType() string {
	return f.mime.String()
}

// GuessedExtension is the extension implied by the detected MIME type, without the dot.
func (f *UploadedFile) GuessedExtension() string {
	return strings.TrimPrefix(f.mime.Extension(), ".")
}

// ClientExtension is the extension of the client supplied name, as given.
func (f *UploadedFile) ClientExtension() string {
	return strings.TrimPrefix(path.Ext(f.clientBase()), ".")
}

// BaseName is the client supplied name without directories and without the extension.
func (f *UploadedFile) BaseName() string {
	base := f.clientBase()
	return strings.TrimSuffix(base, path.Ext(base))
}

func (f *UploadedFile) clientBase() string {
	return path.Base(strings.ReplaceAll(f.OriginalName, `\`, "/"))
}
