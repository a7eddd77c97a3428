package frontend

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectType sniffs path's content and returns the object type the
// rest of the pipeline understands (the same vocabulary as
// ctxmodel.Info.ObjectType / QueueForType): an uppercase short name
// derived from the detected MIME type. A forced type from the backend
// reply bypasses this entirely, per spec.
func DetectType(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return classify(mt), nil
}

func classify(mt *mimetype.MIME) string {
	for m := mt; m != nil; m = m.Parent() {
		if t, ok := mimeObjectTypes[m.String()]; ok {
			return t
		}
	}
	major := strings.SplitN(mt.String(), "/", 2)[0]
	switch major {
	case "text":
		return "TEXT"
	case "image":
		return "IMAGE"
	default:
		return "UNKNOWN"
	}
}

var mimeObjectTypes = map[string]string{
	"application/zip":                     "ZIP",
	"application/pdf":                     "PDF",
	"message/rfc822":                      "MAIL",
	"application/x-rar-compressed":        "RAR",
	"application/gzip":                    "GZIP",
	"application/x-bzip2":                 "BZIP2",
	"application/x-msdownload":            "PE",
	"application/x-executable":            "ELF",
	"application/vnd.microsoft.portable-executable": "PE",
}
