package epub

import (
	"archive/zip"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// findCover resolves the book's cover image using, in order: the
// EPUB2 <meta name="cover" content="ID"/> convention, an EPUB3 manifest
// item with properties="cover-image", the <guide> reference of type
// "cover", any manifest image whose id or path mentions "cover", and
// finally the first embedded image of any kind.
func findCover(
	files map[string]*zip.File,
	pkg opfPackage,
	manifestByID map[string]string,
	manifestMedia map[string]string,
	opfDir string,
) ([]byte, string) {
	// EPUB2: <meta name="cover" content="cover-image-id"/>
	for _, m := range pkg.Metadata.Meta {
		if m.Name == "cover" {
			if p, ok := manifestByID[m.Content]; ok {
				if data, mime, ok := loadImage(files, p, manifestMedia[m.Content]); ok {
					return data, mime
				}
			}
		}
	}

	// EPUB3: manifest item properties="cover-image"
	for _, item := range pkg.Manifest.Items {
		if strings.Contains(item.Props, "cover-image") {
			p := resolvePath(opfDir, item.Href)
			if data, mime, ok := loadImage(files, p, item.MediaType); ok {
				return data, mime
			}
		}
	}

	// <guide><reference type="cover" href="..."/></guide>
	for _, ref := range pkg.Guide.References {
		if ref.Type == "cover" {
			p := resolvePath(opfDir, ref.Href)
			if data, mime, ok := loadImageGuess(files, p); ok {
				return data, mime
			}
		}
	}

	// Any manifest image whose id or href mentions "cover".
	for _, item := range pkg.Manifest.Items {
		if !isImageMediaType(item.MediaType) {
			continue
		}
		lowerID := strings.ToLower(item.ID)
		lowerHref := strings.ToLower(item.Href)
		if strings.Contains(lowerID, "cover") || strings.Contains(lowerHref, "cover") {
			p := resolvePath(opfDir, item.Href)
			if data, mime, ok := loadImage(files, p, item.MediaType); ok {
				return data, mime
			}
		}
	}

	// Last resort: the first embedded image of any kind.
	for _, item := range pkg.Manifest.Items {
		if !isImageMediaType(item.MediaType) {
			continue
		}
		p := resolvePath(opfDir, item.Href)
		if data, mime, ok := loadImage(files, p, item.MediaType); ok {
			return data, mime
		}
	}

	return nil, ""
}

func isImageMediaType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}

func loadImage(files map[string]*zip.File, zpath, mediaType string) ([]byte, string, bool) {
	if !isImageMediaType(mediaType) {
		return nil, "", false
	}
	data, err := readZipFile(files, zpath)
	if err != nil {
		return nil, "", false
	}
	return data, mediaType, true
}

// loadImageGuess is used when a guide reference points at an XHTML page
// containing the cover <img>, or directly at an image file; html pages
// referencing a single cover image are a common authoring pattern.
func loadImageGuess(files map[string]*zip.File, zpath string) ([]byte, string, bool) {
	data, err := readZipFile(files, zpath)
	if err != nil {
		return nil, "", false
	}
	if strings.HasSuffix(strings.ToLower(zpath), ".xhtml") || strings.HasSuffix(strings.ToLower(zpath), ".html") {
		parsed := parseHTML(data)
		var imgSrc string
		walkElements(parsed.root, func(n *html.Node) {
			if imgSrc == "" && n.DataAtom == atom.Img {
				imgSrc = attr(n, "src")
			}
		})
		if imgSrc == "" {
			return nil, "", false
		}
		imgPath := resolvePath(path.Dir(zpath), imgSrc)
		imgData, err := readZipFile(files, imgPath)
		if err != nil {
			return nil, "", false
		}
		mime := guessMimeFromExt(imgPath)
		if mime == "" {
			return nil, "", false
		}
		return imgData, mime, true
	}
	mime := guessMimeFromExt(zpath)
	if mime == "" {
		return nil, "", false
	}
	return data, mime, true
}

func guessMimeFromExt(p string) string {
	lower := strings.ToLower(p)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	default:
		return ""
	}
}
