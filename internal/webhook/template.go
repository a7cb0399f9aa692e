package webhook

// SupportTemplate is posted by the bot on new conversations from companies without a support plan.
const SupportTemplate = `Thanks for getting in touch 😃

We try to get back to everyone within 2 working days, but most of the time it's quicker!

If you wish to upgrade your support plan, you can do that for only $12 by clicking <a href="https://secure.tutorcruncher.com/billing"/>here</a>! Please note this might take an hour to update, so just reply here saying you've changed your support plan and we'll check 😃

If your query is urgent, please reply with 'This is urgent' and we'll get someone to look at it as soon as possible.`

// NoSupportPlan is the support_plan value of companies that get the template.
const NoSupportPlan = "No Support"

// HelpArticleTags are the conversation tags that open an issue on the site repository.
var HelpArticleTags = []string{"New help article", "Update help article"}
