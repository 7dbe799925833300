package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

type ocfContainer struct {
	XMLName   xml.Name `xml:"container"`
	RootFiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		Title       string `xml:"title"`
		Creator     string `xml:"creator"`
		Language    string `xml:"language"`
		Publisher   string `xml:"publisher"`
		Description string `xml:"description"`
		Meta        []struct {
			Name    string `xml:"name,attr"`
			Content string `xml:"content,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
			Props     string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		TOC      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
	Guide struct {
		References []struct {
			Type string `xml:"type,attr"`
			Href string `xml:"href,attr"`
		} `xml:"reference"`
	} `xml:"guide"`
}

type ncxDoc struct {
	XMLName xml.Name  `xml:"ncx"`
	NavMap  ncxNavMap `xml:"navMap"`
}

type ncxNavMap struct {
	Points []ncxNavPoint `xml:"navPoint"`
}

type ncxNavPoint struct {
	NavLabel struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

// readContainer walks the OCF container to find the package document, then
// loads metadata, manifest, spine, TOC and cover image from it.
func readContainer(zr *zip.Reader) (*Book, error) {
	files := indexZip(zr)

	containerData, err := readZipFile(files, "META-INF/container.xml")
	if err != nil {
		return nil, err
	}
	var oc ocfContainer
	if err := xml.Unmarshal(containerData, &oc); err != nil {
		return nil, fmt.Errorf("parse container.xml: %w", err)
	}
	if len(oc.RootFiles) == 0 {
		return nil, fmt.Errorf("container.xml has no rootfile")
	}
	opfPath := oc.RootFiles[0].FullPath
	opfDir := path.Dir(opfPath)

	opfData, err := readZipFile(files, opfPath)
	if err != nil {
		return nil, err
	}
	var pkg opfPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, fmt.Errorf("parse package document: %w", err)
	}

	manifestByID := make(map[string]string)   // id -> zip path
	manifestMedia := make(map[string]string)  // id -> media type
	manifestByPath := make(map[string]string) // zip path -> id
	for _, item := range pkg.Manifest.Items {
		p := resolvePath(opfDir, item.Href)
		manifestByID[item.ID] = p
		manifestMedia[item.ID] = item.MediaType
		manifestByPath[p] = item.ID
	}

	book := &Book{
		Title:       firstNonEmpty(pkg.Metadata.Title),
		Author:      firstNonEmpty(pkg.Metadata.Creator),
		Language:    firstNonEmpty(pkg.Metadata.Language),
		Publisher:   firstNonEmpty(pkg.Metadata.Publisher),
		Description: firstNonEmpty(pkg.Metadata.Description),
	}

	cover, mime := findCover(files, pkg, manifestByID, manifestMedia, opfDir)
	book.Cover = cover
	book.CoverMimeType = mime

	// Spine: read and convert each referenced XHTML document to text.
	for _, ref := range pkg.Spine.ItemRefs {
		zpath, ok := manifestByID[ref.IDRef]
		if !ok {
			continue
		}
		media := manifestMedia[ref.IDRef]
		if !strings.Contains(media, "html") {
			continue
		}
		raw, err := readZipFile(files, zpath)
		if err != nil {
			continue
		}
		parsed := parseHTML(raw)
		book.Spine = append(book.Spine, SpineDoc{
			ID:   ref.IDRef,
			Path: zpath,
			Text: htmlToText(parsed),
			Raw:  parsed,
		})
	}

	// TOC: prefer the EPUB3 nav document (manifest item with
	// properties="nav"); fall back to the NCX referenced by spine.toc.
	book.TOC = readTOC(files, pkg, manifestByID, opfDir)

	return book, nil
}

func indexZip(zr *zip.Reader) map[string]*zip.File {
	m := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		m[f.Name] = f
	}
	return m
}

func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		// EPUB paths are sometimes stored without normalizing "./".
		name = path.Clean(name)
		f, ok = files[name]
		if !ok {
			return nil, fmt.Errorf("missing file in container: %s", name)
		}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func resolvePath(dir, href string) string {
	href = strings.SplitN(href, "#", 2)[0]
	if dir == "." || dir == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(dir, href))
}

func firstNonEmpty(s string) string {
	return strings.TrimSpace(s)
}

func readTOC(files map[string]*zip.File, pkg opfPackage, manifestByID map[string]string, opfDir string) []TOCEntry {
	// EPUB3 nav document.
	for _, item := range pkg.Manifest.Items {
		if strings.Contains(item.Props, "nav") {
			zpath := resolvePath(opfDir, item.Href)
			raw, err := readZipFile(files, zpath)
			if err != nil {
				continue
			}
			if entries := parseNavDoc(raw, path.Dir(zpath)); len(entries) > 0 {
				return entries
			}
		}
	}

	// EPUB2 NCX, referenced by spine.toc or simply the first .ncx item.
	ncxID := pkg.Spine.TOC
	var ncxPath string
	if ncxID != "" {
		ncxPath = manifestByID[ncxID]
	}
	if ncxPath == "" {
		for _, item := range pkg.Manifest.Items {
			if strings.Contains(item.MediaType, "ncx") {
				ncxPath = resolvePath(opfDir, item.Href)
				break
			}
		}
	}
	if ncxPath == "" {
		return nil
	}
	raw, err := readZipFile(files, ncxPath)
	if err != nil {
		return nil
	}
	var ncx ncxDoc
	if err := xml.Unmarshal(raw, &ncx); err != nil {
		return nil
	}
	return flattenNavPoints(ncx.NavMap.Points, path.Dir(ncxPath))
}

func flattenNavPoints(points []ncxNavPoint, dir string) []TOCEntry {
	var out []TOCEntry
	for _, p := range points {
		entry := TOCEntry{Title: strings.TrimSpace(p.NavLabel.Text)}
		src := p.Content.Src
		parts := strings.SplitN(src, "#", 2)
		entry.Path = resolvePath(dir, parts[0])
		if len(parts) == 2 {
			entry.Fragment = parts[1]
		}
		if entry.Title != "" {
			out = append(out, entry)
		}
		out = append(out, flattenNavPoints(p.Children, dir)...)
	}
	return out
}
