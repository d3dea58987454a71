package output

import "time"

// Record is one line of a segment data file.
type Record struct {
	Index         int       `json:"index"`
	EpisodeIndex  int       `json:"episode_index"`
	FrameIndex    int       `json:"frame_index"`
	TaskIndex     int       `json:"task_index"`
	OriginalIndex int       `json:"original_index"`
	Timestamp     float32   `json:"timestamp"`
	Action        []float32 `json:"action"`
	State         []float32 `json:"state"`
	Image         string    `json:"image,omitempty"`
	Image2        string    `json:"image2,omitempty"`
	IsPlaceholder bool      `json:"is_placeholder"`
}

// EpisodeMeta is one line of meta/episodes.jsonl.
type EpisodeMeta struct {
	EpisodeIndex         int      `json:"episode_index"`
	Tasks                []string `json:"tasks"`
	TaskIndex            int      `json:"task_index"`
	DatasetFromIndex     int      `json:"dataset_from_index"`
	DatasetToIndex       int      `json:"dataset_to_index"`
	Length               int      `json:"length"`
	ActionType           string   `json:"action_type"`
	OriginalTask         string   `json:"original_task"`
	KeyframeIndex        int      `json:"keyframe_index"`
	OriginalEpisodeIndex int      `json:"original_episode_index"`
	OriginalTaskIndex    int      `json:"original_task_index"`
	OriginalFrameStart   int      `json:"original_frame_start"`
	OriginalFrameEnd     int      `json:"original_frame_end"`
	HasPlaceholder       bool     `json:"has_placeholder"`
	DataFile             string   `json:"data_file"`
}

// Info is meta/info.json.
type Info struct {
	TotalEpisodes     int       `json:"total_episodes"`
	TotalFrames       int       `json:"total_frames"`
	TotalTasks        int       `json:"total_tasks"`
	TotalPlaceholders int       `json:"total_placeholders"`
	EmptySegments     int       `json:"empty_segments"`
	ReadFailures      int       `json:"read_failures"`
	CreatedAt         time.Time `json:"created_at"`
	RobotType         string    `json:"robot_type"`
	FPS               int       `json:"fps"`
	SaveMode          string    `json:"save_mode"`
	PlaceholderAction float32   `json:"placeholder_action"`
	ObservationKeys   []string  `json:"observation_keys"`
	ActionKeys        []string  `json:"action_keys"`
}

// Stats is meta/stats.json.
type Stats struct {
	TotalEpisodes  int     `json:"total_episodes"`
	TotalFrames    int     `json:"total_frames"`
	TotalTasks     int     `json:"total_tasks"`
	AverageFrames  float64 `json:"average_frames_per_episode"`
	MinFrames      int     `json:"min_frames_per_episode"`
	MaxFrames      int     `json:"max_frames_per_episode"`
	Placeholders   int     `json:"placeholders"`
	SegmentsPerRaw float64 `json:"segments_per_original_episode"`
}

// ImageFrame describes one frame of an image-mode episode.
type ImageFrame struct {
	FrameIndex    int       `json:"frame_idx"`
	OriginalIndex int       `json:"original_index"`
	Cam1          string    `json:"cam1"`
	Cam2          string    `json:"cam2"`
	Action        []float32 `json:"action"`
	State         []float32 `json:"state"`
	IsPlaceholder bool      `json:"is_placeholder,omitempty"`
}

// ImageEpisode is the per-episode metadata.json of the image layout.
type ImageEpisode struct {
	EpisodeIndex  int          `json:"episode_idx"`
	ActionType    string       `json:"action_type"`
	OriginalTask  string       `json:"original_task"`
	NewTask       string       `json:"new_task"`
	KeyframeIndex int          `json:"keyframe_index"`
	NumFrames     int          `json:"num_frames"`
	Frames        []ImageFrame `json:"frames,omitempty"`
}

// ImageSummary is episodes_summary.json.
type ImageSummary struct {
	TotalEpisodes int            `json:"total_episodes"`
	Episodes      []ImageEpisode `json:"episodes"`
}
