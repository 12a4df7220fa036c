package testutil

// CheckpointCols must match the SELECT column order in checkpoint/postgres.go
var CheckpointCols = []string{
	"session_id", "user_id", "step", "draft_id", "form", "images", "updated_at",
}
