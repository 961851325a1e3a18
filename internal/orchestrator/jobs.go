package orchestrator

// SampleQuestionsArgs opens a run by drawing its questions.
type SampleQuestionsArgs struct {
	ChatID    int64  `json:"chat_id"`
	RunHandle string `json:"run_handle"`
	Questions int    `json:"questions"`
}

func (SampleQuestionsArgs) Kind() string { return "trivia_sample_questions" }

// ChooseQuestionArgs picks and asks the next question of a run.
type ChooseQuestionArgs struct {
	ChatID    int64    `json:"chat_id"`
	RunHandle string   `json:"run_handle"`
	Sample    []string `json:"sample"`
	Asked     []string `json:"asked"`
}

func (ChooseQuestionArgs) Kind() string { return "trivia_choose_question" }

// QuestionTimeoutArgs is the pending timeout of an asked question. It carries
// enough of the run to continue whichever way the question ends.
type QuestionTimeoutArgs struct {
	ChatID    int64    `json:"chat_id"`
	RunHandle string   `json:"run_handle"`
	Sample    []string `json:"sample"`
	Asked     []string `json:"asked"`
	Remaining int      `json:"remaining"`
}

func (QuestionTimeoutArgs) Kind() string { return "trivia_question_timeout" }

// IntermissionArgs runs the pause between two questions.
type IntermissionArgs struct {
	ChatID    int64    `json:"chat_id"`
	RunHandle string   `json:"run_handle"`
	Sample    []string `json:"sample"`
	Asked     []string `json:"asked"`
	Remaining int      `json:"remaining"`
}

func (IntermissionArgs) Kind() string { return "trivia_intermission" }

type EndGameArgs struct {
	ChatID    int64  `json:"chat_id"`
	RunHandle string `json:"run_handle"`
}

func (EndGameArgs) Kind() string { return "trivia_end_game" }

func (a QuestionTimeoutArgs) intermission() IntermissionArgs {
	return IntermissionArgs(a)
}
