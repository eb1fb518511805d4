package model

import (
	"github.com/google/uuid"
)

// MaxOptions is the largest number of labeled options a choice question carries.
const MaxOptions = 10

// QuestionType enumerates supported question formats.
type QuestionType string

const (
	QuestionTypeSingleChoiceText  QuestionType = "SINGLE_CHOICE_TEXT"
	QuestionTypeSingleChoiceImage QuestionType = "SINGLE_CHOICE_IMAGE"
	QuestionTypeShortText         QuestionType = "SHORT_TEXT"
	QuestionTypeLongText          QuestionType = "LONG_TEXT"
)

// IsChoice reports whether answers to this type are option labels.
func (t QuestionType) IsChoice() bool {
	return t == QuestionTypeSingleChoiceText || t == QuestionTypeSingleChoiceImage
}

// Difficulty tags a question for reporting.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Option is a single labeled choice. Image questions carry an image URL.
type Option struct {
	Label    string `json:"label" binding:"required,option_label"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Question represents a single exam question.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	ExamID        uuid.UUID    `json:"exam_id"`
	Type          QuestionType `json:"question_type"`
	Prompt        string       `json:"prompt"`
	Options       []Option     `json:"options"`
	CorrectOption string       `json:"correct_option,omitempty"`
	Marks         float64      `json:"marks"`
	NegativeMarks float64      `json:"negative_marks"`
	Difficulty    Difficulty   `json:"difficulty,omitempty"`
	Explanation   string       `json:"explanation,omitempty"`
	OrderNum      int          `json:"order_num"`
}

// QuestionInput is the admin payload for a single question.
type QuestionInput struct {
	Type          QuestionType `json:"question_type" binding:"required,oneof=SINGLE_CHOICE_TEXT SINGLE_CHOICE_IMAGE SHORT_TEXT LONG_TEXT"`
	Prompt        string       `json:"prompt" binding:"required,min=1,max=20000"`
	Options       []Option     `json:"options" binding:"max=10,dive"`
	CorrectOption string       `json:"correct_option" binding:"omitempty,max=10"`
	Marks         float64      `json:"marks" binding:"min=0"`
	NegativeMarks float64      `json:"negative_marks" binding:"min=0"`
	Difficulty    Difficulty   `json:"difficulty" binding:"omitempty,oneof=EASY MEDIUM HARD"`
	Explanation   string       `json:"explanation" binding:"omitempty,max=20000"`
}

// ReplaceQuestionsRequest is the payload for bulk replacing an exam's questions.
type ReplaceQuestionsRequest struct {
	Questions []QuestionInput `json:"questions" binding:"required,dive"`
}
