package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openavatar/concierge/internal/domain"
)

const msgHelp = `Here's what I can do:
create - build a new avatar step by step
access <name> - open a session with one of your avatars
list - show your avatars
cancel - abort the current avatar creation
help - show this message`

const (
	msgWelcome = "Welcome! I can help you create a personal avatar and talk to it later.\n" + msgHelp

	msgUnknownInput = `I didn't catch that. Send "help" to see what I can do.`

	msgAccessUsage = `Tell me which avatar to open, e.g. "access My Helper".`
	msgNoAvatars   = `You don't have any avatars yet. Send "create" to make one.`

	msgProofRequested = "This avatar is credential-protected. I've sent a proof request to your wallet; your session will start once it's verified."
	msgProofPending   = "A proof request for this avatar is already waiting in your wallet. Please respond to it."

	msgProofEmpty         = "Your proof submission didn't contain any credential. Please try again."
	msgProofNotVerified   = "Your credential could not be verified. Access denied."
	msgProofMissingConfig = "Your credential doesn't reference an avatar. Access denied."
	msgProofWrongOwner    = "That credential belongs to a different user. Access denied."
	msgProofUnknownConfig = "The avatar referenced by your credential no longer exists."
	msgProofStale         = "This proof was already processed."

	msgCredentialStored   = "Your ownership credential has been stored in your wallet."
	msgCredentialDeclined = "You declined the ownership credential. You can still access this avatar without it."

	msgCredentialOffer = "I've sent an ownership credential for this avatar to your wallet. Accept it to protect access."

	msgNothingToCancel = "You don't have an avatar creation in progress."
)

func msgProfileGreeting(name string) string {
	if name == "" {
		return msgWelcome
	}
	return fmt.Sprintf("Nice to meet you, %s!\n%s", name, msgHelp)
}

func msgNotFound(name string) string {
	return fmt.Sprintf("I couldn't find an avatar named %q. Send \"list\" to see yours.", name)
}

func msgSessionReady(name string) string {
	return fmt.Sprintf("Your session with %q is ready. Open the link to start talking.", name)
}

// conversational maps a classified failure to a single-line reply. Returns
// "" for errors that are not part of the user-facing taxonomy; those bubble
// up as internal faults for the current request.
func conversational(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotConfigured):
		return "Credential services are not configured right now. Please try again later."
	case errors.Is(err, domain.ErrExternalService):
		return "Something went wrong talking to an upstream service. Please try again."
	case errors.Is(err, domain.ErrNotFound):
		return "I couldn't find what that referred to."
	case errors.Is(err, domain.ErrOwnershipViolation):
		return msgProofWrongOwner
	default:
		return ""
	}
}

func listLine(name string, protected bool) string {
	if protected {
		return fmt.Sprintf("- %s (protected)", name)
	}
	return fmt.Sprintf("- %s", name)
}

// parseCommand splits a text into a command word and its argument. Commands
// are case-insensitive, may carry a leading slash, and always win over wizard
// input.
func parseCommand(text string) (cmd, arg string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", "", false
	}
	word := trimmed
	rest := ""
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		word, rest = trimmed[:i], strings.TrimSpace(trimmed[i+1:])
	}
	word = strings.ToLower(strings.TrimPrefix(word, "/"))
	switch word {
	case "create", "access", "cancel", "list", "help":
		return word, rest, true
	}
	return "", "", false
}
