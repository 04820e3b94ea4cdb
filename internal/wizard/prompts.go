package wizard

import (
	"fmt"
	"strings"

	"github.com/openavatar/concierge/internal/catalog"
)

// Conversational copy for the wizard. Replies are plain text; the gateway
// renders them as chat messages.
const (
	msgNoActiveSession = `You don't have an avatar creation in progress. Send "create" to start one.`
	msgCancelled       = "Avatar creation cancelled."

	msgAvatarIntro        = "Let's create your avatar. Choose an appearance:"
	msgVoiceIntro         = "Now pick a voice:"
	msgLanguageIntro      = "Which language should your avatar speak?"
	msgAvatarManualLabel  = "Enter a custom avatar ID"
	msgVoiceManualLabel   = "Enter a custom voice ID"
	msgAvatarManualPrompt = "Send the avatar ID you'd like to use (at least 8 characters)."
	msgVoiceManualPrompt  = "Send the voice ID you'd like to use (at least 8 characters)."
	msgManualTooShort     = "That ID looks too short. Please send at least 8 characters."

	msgNamePrompt  = "What should your avatar be called? (2-100 characters)"
	msgNameInvalid = "Names must be between 2 and 100 characters. Try another one."
	msgNameTaken   = "You already have an avatar with that name. Try another one."

	msgPersonalityPrompt = `Describe your avatar's personality, or send "skip".`

	msgConfirmHint    = `Send "confirm" to create your avatar, or "cancel" to discard it.`
	msgConfirmReplies = `Please send "confirm" to create your avatar, or "cancel" to discard it.`
)

func msgCommitted(name string) string {
	return fmt.Sprintf("Your avatar %q has been created.", name)
}

func msgInvalidSelection(max int) string {
	return fmt.Sprintf("Please reply with a number between 1 and %d.", max)
}

// renderItemList renders a numbered catalog menu with the manual-entry
// sentinel as the final choice.
func renderItemList(items []catalog.Item, manualLabel string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.DisplayName)
	}
	fmt.Fprintf(&b, "%d. %s", len(items)+1, manualLabel)
	return b.String()
}

// renderLanguageList renders the fixed language menu. There is no manual
// entry for languages.
func renderLanguageList(langs []catalog.Language) string {
	var b strings.Builder
	for i, lang := range langs {
		fmt.Fprintf(&b, "%d. %s", i+1, lang.DisplayName)
		if i < len(langs)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
