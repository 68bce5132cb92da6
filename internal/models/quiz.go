package models

// QuizChoice is one answer option shown to the user.
type QuizChoice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuizQuestion is the client-visible question shape. The correct choice id
// is never part of this struct: only the remote oracle knows it. Adding a
// correct-answer field here would break the gate's trust model.
type QuizQuestion struct {
	ID      string       `json:"id"`
	Stem    string       `json:"stem"`
	Choices []QuizChoice `json:"choices"`
}

// QuizResult is the terminal verdict. It is only ever produced by the
// oracle's final-commit endpoint, except for local error-budget failures
// where Passed is necessarily false.
type QuizResult struct {
	Passed       bool  `json:"passed"`
	Score        int   `json:"score"`
	Total        int   `json:"total"`
	WrongIndexes []int `json:"wrong_indexes"`
}
