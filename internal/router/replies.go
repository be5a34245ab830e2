package router

import (
	"fmt"
	"strings"

	"github.com/doorman/internal/store"
)

// Canned replies. The doorman voice is short and certain; the classifier
// only fills in where these don't apply.

const (
	replyUnknown = "Don't have you on the list. If someone invited you, have them add you properly."

	replyApology = "Something glitched on my end. Say that again?"

	replyDeclined    = "All good. You know where to find me if plans change."
	replyAskName     = "You're in. What's your name?"
	replyAskHandle   = "Noted. What's your Instagram? (or say skip)"
	replyExpired     = "Window's closed on that invite. Reach out to whoever added you."
	replyEscalated   = "Good question. Let me check with the right people, I'll get back to you."
	replyNudgeYesNo  = "Need a yes or a no."
	replyNudgeName   = "Just need a name."
	replyNudgeHandle = "An Instagram handle, or say skip."

	replyAskContact = "Send their number or share their contact card."
	replyNoContact  = "That doesn't look like a number. Send their phone number or a contact card."

	replyQuotaExhausted = "You've used up your invites for this one."
	replyAlreadyOnList  = "They're already on the list."

	replyHostHelp = "Commands: list, stats, search <name>, drop location. Or send phone numbers to invite."

	replyDropPrompt    = "Send it as: address | arrival window | notes. Or cancel."
	replyDropCancelled = "Drop cancelled. Location stays locked."
	replyDropNeedsAddr = "Need at least an address. Format: address | arrival window | notes."
	replyDropAlready   = "Location already dropped for this one."

	replyCreateCancelled = "Scrapped it. Say create event to start over."
	replyAskEventName    = "Let's set it up. What's the event called?"
	replyAskEventDate    = "What date? (e.g. friday, tomorrow, Oct 12)"
	replyAskEventTime    = "What's the time window? (e.g. 10pm till late)"
	replyAskDropTime     = "When should the location drop? (e.g. 8pm day-of)"
	replyAskRules        = "Any rules? Send them one at a time, say done when finished."
	replyBadDate         = "Couldn't read that date. Try something like friday, tomorrow, or Oct 12."

	replyRelayed = "Sent. I put it in my own words."
)

func askPlusOne(left int) string {
	if left == 1 {
		return "Want to bring someone? You've got 1 invite. Yes or no."
	}
	return fmt.Sprintf("Want to bring someone? You've got %d invites. Yes or no.", left)
}

func allSet(ev *store.Event) string {
	return fmt.Sprintf("You're locked in for %s. Location drops %s. Sit tight.", ev.Name, ev.DropTime)
}

func inviteSentReply(invitee string, left int) string {
	switch left {
	case 0:
		return fmt.Sprintf("Invite sent to %s. That was your last one.", invitee)
	case 1:
		return fmt.Sprintf("Invite sent to %s. You've got 1 left.", invitee)
	default:
		return fmt.Sprintf("Invite sent to %s. You've got %d left.", invitee, left)
	}
}

func inviteMessage(ev *store.Event, fromHost bool) string {
	who := "A friend"
	if fromHost {
		who = "Someone"
	}
	return fmt.Sprintf("%s put you on the list for %s on %s, %s. You in? Yes or no.",
		who, ev.Name, ev.Date, ev.TimeWindow)
}

func eventCreatedReply(ev *store.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is live.\nDate: %s\nTime: %s\nLocation drops: %s", ev.Name, ev.Date, ev.TimeWindow, ev.DropTime)
	if len(ev.Rules) > 0 {
		fmt.Fprintf(&b, "\nRules: %s", strings.Join(ev.Rules, "; "))
	}
	b.WriteString("\nSend phone numbers to start inviting.")
	return b.String()
}

func faqAnswer(category string, ev *store.Event) string {
	switch category {
	case "where":
		return fmt.Sprintf("Location drops %s. That's how this works.", ev.DropTime)
	case "when":
		return fmt.Sprintf("%s, %s.", ev.Date, ev.TimeWindow)
	case "plus_one":
		return "If you've got invites left, I'll ask when you're confirmed. One step at a time."
	case "drop":
		return fmt.Sprintf("Address goes out %s to everyone confirmed.", ev.DropTime)
	}
	return ""
}

func statsReply(st store.Stats) string {
	return fmt.Sprintf("Guests: %d total\nConfirmed: %d\nPending: %d\nDeclined: %d\nExpired: %d\nPlus-ones used: %d",
		st.Total, st.Confirmed, st.Pending, st.Declined, st.Expired, st.PlusOnesUsed)
}

func guestListReply(guests []store.Guest) string {
	if len(guests) == 0 {
		return "List's empty. Send phone numbers to invite."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d on the list:", len(guests))
	for _, g := range guests {
		fmt.Fprintf(&b, "\n%s (%s)", g.DisplayName(g.Identity), g.Status)
		if g.Handle != nil && *g.Handle != "" {
			fmt.Fprintf(&b, " @%s", *g.Handle)
		}
	}
	return b.String()
}

func escalationNotice(guest *store.Guest, question string) string {
	return fmt.Sprintf("Question from %s: %q\nReply with an answer and I'll pass it along.",
		guest.DisplayName(guest.Identity), question)
}
