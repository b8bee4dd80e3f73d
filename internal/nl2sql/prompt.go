package nl2sql

import (
	"fmt"
	"strings"

	"github.com/duckask/duckask/internal/dataset"
)

const (
	DefaultRelation = "data_df"
	ExplanationMark = "EXPLANATION:"
)

// PromptBuilder renders the system and user messages for one question.
// Output depends only on its inputs.
type PromptBuilder struct {
	Relation string
}

func NewPromptBuilder(relation string) PromptBuilder {
	relation = strings.TrimSpace(relation)
	if relation == "" {
		relation = DefaultRelation
	}
	return PromptBuilder{Relation: relation}
}

func (b PromptBuilder) System() string {
	relation := b.Relation
	if relation == "" {
		relation = DefaultRelation
	}
	return "You are an expert SQL analyst. Your task is to generate SQL queries for data analysis.\n" +
		"Rules:\n" +
		"1) Always return a valid SQL query enclosed in ```sql``` fences\n" +
		fmt.Sprintf("2) The table name is '%s'\n", relation) +
		"3) If the question cannot be answered with SQL, provide an " + ExplanationMark + " prefix instead\n" +
		"4) Never include markdown formatting in SQL blocks, just the pure SQL\n" +
		"5) Optimize for clarity and correctness\n"
}

// Build returns the (system, user) message pair. Every column is listed;
// sample rows are rendered as CSV with a header row.
func (b PromptBuilder) Build(question string, schema []dataset.Column, sample *dataset.Dataset) (string, string, error) {
	names := make([]string, len(schema))
	typed := make([]string, len(schema))
	for i, column := range schema {
		names[i] = column.Name
		typed[i] = fmt.Sprintf("%s(%s)", column.Name, column.Type)
	}

	var sampleCSV strings.Builder
	var rows [][]any
	if sample != nil {
		rows = sample.Rows
	}
	if err := dataset.WriteCSV(&sampleCSV, names, rows); err != nil {
		return "", "", fmt.Errorf("render sample rows: %w", err)
	}

	var user strings.Builder
	user.WriteString("Dataset Info:\n")
	user.WriteString("Columns: " + strings.Join(names, ", ") + "\n")
	user.WriteString("Data Types: " + strings.Join(typed, ", ") + "\n\n")
	user.WriteString("Sample Data:\n")
	user.WriteString(sampleCSV.String())
	user.WriteString("\n\nUser Question: " + question + "\n\n")
	user.WriteString("Generate a SQL query or provide an explanation. Return in ```sql``` fences or start with " + ExplanationMark)

	return b.System(), user.String(), nil
}
