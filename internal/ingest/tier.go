package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/uri"
)

const (
	abstractFileName = ".abstract.md"
	overviewFileName = ".overview.md"
)

// SynthesizeTierSummaries walks root and writes .abstract.md/.overview.md
// for every directory, deterministically, from child names and file
// previews — no external model call (spec's "semantic-lite" mode).
func SynthesizeTierSummaries(fsys *fs.FS, root uri.URI) error {
	entries, err := fsys.List(root, true)
	if err != nil {
		return err
	}

	children := map[string][]fs.Entry{}
	children[root.String()] = nil
	for _, e := range entries {
		parent, ok := e.URI.Parent()
		if !ok {
			continue
		}
		children[parent.String()] = append(children[parent.String()], e)
	}
	// root itself must also get a summary.
	dirs := map[string]uri.URI{root.String(): root}
	for _, e := range entries {
		if e.IsDir {
			dirs[e.URI.String()] = e.URI
		}
	}

	for _, dirURI := range dirs {
		if err := writeTierSummaryFor(fsys, dirURI, children[dirURI.String()]); err != nil {
			return err
		}
	}
	return nil
}

func writeTierSummaryFor(fsys *fs.FS, dir uri.URI, kids []fs.Entry) error {
	sort.Slice(kids, func(i, j int) bool { return kids[i].URI.String() < kids[j].URI.String() })

	var names []string
	var previewText strings.Builder
	fileCount, dirCount := 0, 0
	for _, k := range kids {
		names = append(names, k.Name)
		if k.IsDir {
			dirCount++
			continue
		}
		fileCount++
		if content, err := fsys.Read(k.URI); err == nil {
			previewText.WriteString(preview(string(content), 400))
			previewText.WriteString(" ")
		}
	}

	keywords := topKeywords(strings.Join(names, " ")+" "+previewText.String(), 8)

	abstract := fmt.Sprintf("# %s\n\n%d files, %d subdirectories.\n\nKeywords: %s\n",
		dir.LastSegment(), fileCount, dirCount, strings.Join(keywords, ", "))

	var overview strings.Builder
	fmt.Fprintf(&overview, "# %s overview\n\n", dir.LastSegment())
	for _, k := range kids {
		kind := "file"
		if k.IsDir {
			kind = "dir"
		}
		fmt.Fprintf(&overview, "- [%s] %s\n", kind, k.Name)
	}

	abstractURI, err := dir.Join(abstractFileName)
	if err != nil {
		return err
	}
	if err := fsys.Write(abstractURI, []byte(abstract), true); err != nil {
		return err
	}
	overviewURI, err := dir.Join(overviewFileName)
	if err != nil {
		return err
	}
	return fsys.Write(overviewURI, []byte(overview.String()), true)
}
