package output

import (
	"fmt"
	"path/filepath"
)

// Save modes.
const (
	ModeDataset = "dataset"
	ModeImage   = "image"
	ModeBoth    = "both"
)

const (
	metaDir          = "meta"
	dataDir          = "data"
	imagesDir        = "images"
	episodesFile     = "episodes.jsonl"
	tasksFile        = "tasks.jsonl"
	infoFile         = "info.json"
	statsFile        = "stats.json"
	indexMapFile     = "index_map.jsonl"
	episodeMetaFile  = "metadata.json"
	imageSummaryFile = "episodes_summary.json"
)

// Layout resolves paths inside an output root.
type Layout struct {
	Root string
}

// MetaDir returns <root>/meta.
func (l Layout) MetaDir() string { return filepath.Join(l.Root, metaDir) }

// MetaFile returns a file under meta/.
func (l Layout) MetaFile(name string) string { return filepath.Join(l.Root, metaDir, name) }

// SegmentDataRel is the data file of a segment relative to the root.
func SegmentDataRel(originalEpisode, newIndex int) string {
	return filepath.Join(dataDir, fmt.Sprintf("episode_%d", originalEpisode), fmt.Sprintf("segment_%d.jsonl", newIndex))
}

// SegmentImageRel is a dataset-mode image path relative to the root.
func SegmentImageRel(newIndex, camera, position int, ext string) string {
	return filepath.Join(imagesDir, fmt.Sprintf("segment_%d", newIndex), fmt.Sprintf("cam%d_%d.%s", camera, position, ext))
}

// EpisodeImageRel is an image-mode frame path relative to the root.
func EpisodeImageRel(newIndex, camera, position int, ext string) string {
	return filepath.Join(imagesDir, fmt.Sprintf("episode_%d", newIndex), fmt.Sprintf("frame_cam%d_%d.%s", camera, position, ext))
}

// EpisodeDirRel is the image-mode directory of a segment.
func EpisodeDirRel(newIndex int) string {
	return filepath.Join(imagesDir, fmt.Sprintf("episode_%d", newIndex))
}

// Abs joins a root-relative path.
func (l Layout) Abs(rel string) string { return filepath.Join(l.Root, rel) }

func imageExt(ext string) string {
	if ext == "" {
		return "png"
	}
	return ext
}

// ValidMode reports whether mode is a known save mode.
func ValidMode(mode string) bool {
	switch mode {
	case ModeDataset, ModeImage, ModeBoth:
		return true
	default:
		return false
	}
}
