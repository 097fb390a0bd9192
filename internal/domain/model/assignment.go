package model

type Assignment struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Language string `json:"language"`
}
