package models

// WordChordPair is one lyric fragment with the chord (if any) played over it.
type WordChordPair struct {
	Lyrics string `json:"lyrics"`
	Chords string `json:"chords,omitempty"`
}

// Song is the catalogue payload forwarded unmodified to clients in
// SongSelected events. Lines are ordered rows of word/chord pairs.
type Song struct {
	ID       int               `json:"id"`
	Title    string            `json:"title"`
	Artist   string            `json:"artist"`
	ImageURL string            `json:"imageUrl,omitempty"`
	Language string            `json:"language,omitempty"`
	Lines    [][]WordChordPair `json:"lines"`
}
