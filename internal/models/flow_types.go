// Package models defines flow type definitions to avoid circular imports.
package models

// EventKind classifies an inbound event after the transport has decoded it.
type EventKind string

// Command identifies a recognized menu command.
type Command string

// KeyboardType selects the reply keyboard a transport should attach to a reply.
type KeyboardType string

// Event kinds.
const (
	EventKindCommand EventKind = "command"
	EventKindText    EventKind = "text"
	EventKindImage   EventKind = "image"
	EventKindBack    EventKind = "back"
)

// Menu commands.
const (
	CommandStart         Command = "start"
	CommandHelp          Command = "help"
	CommandFindRecipe    Command = "find_recipe"
	CommandCountCalories Command = "count_calories"
	CommandEnterText     Command = "enter_text"
	CommandSendPhoto     Command = "send_photo"
)

// Reply keyboards.
const (
	KeyboardNone           KeyboardType = ""
	KeyboardMain           KeyboardType = "main"
	KeyboardNutritionInput KeyboardType = "nutrition_input"
	KeyboardBack           KeyboardType = "back"
)

// IsValidCommand checks if the given command is a recognized menu command.
func IsValidCommand(c Command) bool {
	switch c {
	case CommandStart, CommandHelp, CommandFindRecipe, CommandCountCalories, CommandEnterText, CommandSendPhoto:
		return true
	default:
		return false
	}
}
