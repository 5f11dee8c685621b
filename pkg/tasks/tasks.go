// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentIngestTask represents the data structure for a document ingest job.
// The worker downloads the raw object from MinIO, converts it and rebuilds
// the parent/child index for the document stem.
type DocumentIngestTask struct {
	DocStem    string `json:"doc_stem"`
	FileName   string `json:"file_name"`
	ObjectName string `json:"object_name"`
	TotalSize  int64  `json:"total_size"`
	EnableVLM  bool   `json:"enable_vlm"`
}
