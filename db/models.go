package db

type Kv struct {
	Key       string
	Value     string
	UpdatedAt string
}
