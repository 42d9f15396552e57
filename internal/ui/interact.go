// Package ui wraps interactive terminal prompts. A keyboard interrupt during
// any prompt surfaces as ErrCancelled so commands can abort cleanly instead
// of crashing.
package ui

import (
	"errors"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// ErrCancelled is returned when the user interrupts a prompt.
var ErrCancelled = errors.New("cancelled by user")

func mapErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrCancelled
	}
	return err
}

// Select prompts the user to pick one item from the list, with fuzzy
// filtering. The query preseeds the filter.
func Select(message string, options []string, query string) (string, error) {
	var answer string
	prompt := &survey.Select{
		Message:  message,
		Options:  options,
		PageSize: 15,
	}
	if query != "" {
		prompt.Default = query
	}
	if err := survey.AskOne(prompt, &answer); err != nil {
		return "", mapErr(err)
	}
	return answer, nil
}

// MultiSelect prompts the user to pick zero or more items from the list.
func MultiSelect(message string, options []string) ([]string, error) {
	var answers []string
	prompt := &survey.MultiSelect{
		Message:  message,
		Options:  options,
		PageSize: 15,
	}
	if err := survey.AskOne(prompt, &answers); err != nil {
		return nil, mapErr(err)
	}
	return answers, nil
}

// Confirm asks a yes/no question, defaulting to no.
func Confirm(message string) (bool, error) {
	var answer bool
	prompt := &survey.Confirm{Message: message}
	if err := survey.AskOne(prompt, &answer); err != nil {
		return false, mapErr(err)
	}
	return answer, nil
}

// Input prompts for a free-text value.
func Input(message, def string) (string, error) {
	var answer string
	prompt := &survey.Input{Message: message, Default: def}
	if err := survey.AskOne(prompt, &answer); err != nil {
		return "", mapErr(err)
	}
	return answer, nil
}
