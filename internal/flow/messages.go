package flow

import "fmt"

// Messages is the injected key-to-display-string mapping used for every
// prompt and result text. Rendering never fails: a missing key renders a
// visible bracketed placeholder so a bad key is obvious in the chat rather
// than crashing the turn.
type Messages map[string]string

// Render resolves a message key, returning "[key]" when absent.
func (m Messages) Render(key string) string {
	if key == "" {
		return ""
	}
	if text, ok := m[key]; ok {
		return text
	}
	return "[" + key + "]"
}

// Renderf resolves a message key and applies fmt arguments to it.
func (m Messages) Renderf(key string, args ...any) string {
	return fmt.Sprintf(m.Render(key), args...)
}

// DefaultMessages returns the message set for the compiled-in shop flow.
func DefaultMessages() Messages {
	return Messages{
		"welcome":              "Welcome to the shop assistant!",
		"intent.prompt":        "What would you like to do?",
		"intent.invalid":       "Sorry, I didn't understand that choice. Please pick one of the options.",
		"cancelled":            "Cancelled",
		"goodbye":              "Thanks for stopping by. Send the trigger word any time to start again.",
		"product.prompt":       "Please provide the product details, one per line:\nName: <product name>\nPrice: <price>\nStock: <quantity>\nDescription: <optional>",
		"product.image_prompt": "Please send a product photo, or reply 'skip' to continue without one.",
		"product.incomplete":   "Here's what I have so far:",
		"product.unparsed":     "I couldn't find any details in that message. Use one 'Field: value' per line, e.g. 'Name: Blue mug'.",
		"product.missing":      "Still missing: %s",
		"image.received":       "📷 Image received.",
		"image.text_rejected":  "Please send an image, or reply 'skip' to continue without one.",
		"input.text_required":  "Please reply with a text message.",

		"catalog.not_configured": "⚠️ The catalog backend is not configured.",
		"catalog.empty":          "The catalog is currently empty.",
		"catalog.list_header":    "Current catalog:",
		"catalog.created":        "✅ %s added to the catalog (id %s).",

		"catalog.err.unavailable":  "⚠️ Could not reach the catalog backend. Please try again later.",
		"catalog.err.unauthorized": "⚠️ The catalog rejected our credentials.",
		"catalog.err.forbidden":    "⚠️ We are not allowed to perform that catalog operation.",
		"catalog.err.not_found":    "⚠️ The catalog endpoint was not found.",
		"catalog.err.duplicate":    "⚠️ An item with that id already exists.",
		"catalog.err.invalid":      "⚠️ The catalog rejected the item data.",
		"catalog.err.image":        "⚠️ The product image could not be uploaded.",
		"catalog.err.server":       "⚠️ The catalog backend had an internal error.",
		"catalog.err.unknown":      "⚠️ Something went wrong talking to the catalog.",
	}
}

// Merge overlays other onto a copy of m, letting deployments override
// individual keys without redefining the whole set.
func (m Messages) Merge(other Messages) Messages {
	merged := make(Messages, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
