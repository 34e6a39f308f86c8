package relay

import "fmt"

// User-visible texts. Ticket references keep the "Ticket #<id>" form so
// replies to them can be resolved.
const (
	noticeHelp = "👋 Welcome to the Ticket Relay Bot!\n\n" +
		"📌 **Customer Usage** (in configured customer groups):\n" +
		"• Method 1: @%[1]s + your question\n" +
		"• Method 2: /ask + your question\n" +
		"• Supports text, images, videos, files, voice, etc.\n\n" +
		"💬 **Continue Conversation**:\n" +
		"• Reply to bot's staff reply message\n" +
		"• Or use command: /t <ticket_id> <content>\n\n" +
		"📌 **Admin Commands** (admin only):\n" +
		"• /addgroup - Add current group as customer group\n" +
		"• /removegroup - Remove current group\n" +
		"• /listgroups - List all customer groups\n\n" +
		"📌 **Staff Reply Method** (in staff group):\n" +
		"• Use Reply function on the wrapper ticket message\n" +
		"• Support replying with any content type\n" +
		"• System will auto-forward to customer and mention original user\n\n" +
		"🔒 **Close Ticket** (staff group):\n" +
		"• Reply to wrapper and send /close or /done to close ticket\n" +
		"• Reply to wrapper and send /reopen to reopen ticket\n\n" +
		"💡 Need help? Contact administrator"

	noticeGroupsOnly       = "❌ This command can only be used in groups"
	noticeResponderGroup   = "❌ The staff group cannot be a customer group"
	noticeAddGroupFailed   = "❌ Failed to add group, please check logs"
	noticeRemoveFailed     = "❌ Failed to remove group, please check logs"
	noticeNotCustomerGroup = "❌ This group is not a customer group"
	noticeRemovedGroup     = "✅ Successfully removed customer group\nGroup ID: %s"
	noticeNoGroups         = "📋 No customer groups"
	noticeGroupList        = "📋 Customer Groups (%d total):\n\n%s"

	noticeInvalidFormat  = "❌ Invalid format\nCorrect format: /t <ticket_id> <content>"
	noticeInvalidID      = "❌ Ticket ID must be a number"
	noticeNoSuchTicket   = "❌ Ticket does not exist"
	noticeForeignTicket  = "❌ This ticket does not belong to current group"
	noticeTicketNotFound = "❌ Ticket not found\nPlease use /t <ticket_id> <content> or @%s to ask again"
	noticeClosed         = "⚠️ This ticket is closed. Please @bot or /ask to create a new ticket."
	noticeClosedStaff    = "⚠️ Ticket #%d is closed. Reply /reopen to it before sending more."

	noticeSystemError    = "❌ System error, please try again later"
	noticeForwardFailed  = "❌ Failed to forward continued message"
	noticeReplySent      = "✅ Reply sent to customer group"
	noticeReplyPartial   = "⚠️ Reply text sent, but the attachment could not be delivered. Please check logs"
	noticeSendFailed     = "❌ Send failed, please check logs"
	noticeTicketClosed   = "✅ Ticket #%d closed"
	noticeTicketReopened = "✅ Ticket #%d reopened"
	noticeAlreadyOpen    = "ℹ️ Ticket #%d is already open"
	noticeCloseFailed    = "❌ Failed to close, please check logs"
	noticeReopenFailed   = "❌ Failed to reopen, please check logs"
)

func transitionNotice(tr Transition, id int64) string {
	switch tr {
	case Reopened:
		return fmt.Sprintf(noticeTicketReopened, id)
	case AlreadyOpen:
		return fmt.Sprintf(noticeAlreadyOpen, id)
	}
	// Closing twice re-confirms the closure.
	return fmt.Sprintf(noticeTicketClosed, id)
}
