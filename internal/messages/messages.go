// Package messages holds the user-facing texts in every supported locale
// and renders lifetimes in human units.
package messages

import (
	"fmt"
	"time"

	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"vanish.share/internal/models"
)

// Message keys.
const (
	Welcome           = "welcome"
	AskLinkExpiry     = "ask_link_expiry"
	AskDeleteAfter    = "ask_delete_after"
	AskPasscodeChoice = "ask_passcode_choice"
	AskPasscode       = "ask_passcode"
	PasscodeLength    = "passcode_length"
	LinkReady         = "link_ready"
	LinkExpired       = "link_expired"
	LinkRevoked       = "link_revoked"
	LinkNotFound      = "link_not_found"
	EnterPasscode     = "enter_passcode"
	PasscodeDenied    = "passcode_denied"
	PasscodeLocked    = "passcode_locked"
	DeliveryNotice    = "delivery_notice"
	DeliveryKept      = "delivery_kept"
	DeletionWarning   = "deletion_warning"
	DeletionDone      = "deletion_done"
	EmptyBundle       = "empty_bundle"
	ForwardedFrom     = "forwarded_from"
	NotAdmin          = "not_admin"
	BroadcastDone     = "broadcast_done"
	AdminMessage      = "admin_message"
	ComposeCancelled  = "compose_cancelled"
	NothingToCancel   = "nothing_to_cancel"
	ChoiceYes         = "choice_yes"
	ChoiceNo          = "choice_no"

	unlimited = "unlimited"
	years     = "years"
	months    = "months"
	days      = "days"
	hours     = "hours"
	seconds   = "seconds"
	several   = "several_years"
)

const (
	Hour  = models.Lifetime(time.Hour)
	Day   = 24 * Hour
	Month = 30 * Day
	Year  = 365 * Day
)

// Presets are the lifetimes offered for both link expiry and delete-after.
var Presets = []models.Lifetime{Hour, Day, Month, Year, 5 * Year, models.Unlimited}

var (
	Bengali = language.Bengali
	English = language.English

	supported = []language.Tag{English, Bengali}
	matcher   = language.NewMatcher(supported)
	cat       = mustBuild()
)

type entry struct {
	key string
	msg catalog.Message
}

func str(key, text string) entry { return entry{key, catalog.String(text)} }

func mustBuild() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(English))
	for tag, entries := range map[language.Tag][]entry{
		English: english,
		Bengali: bengali,
	} {
		for _, e := range entries {
			if err := b.Set(tag, e.key, e.msg); err != nil {
				panic(fmt.Sprintf("messages: %s/%s: %v", tag, e.key, err))
			}
		}
	}
	return b
}

var english = []entry{
	str(Welcome, "👋 Hello!\nSend me files, photos or videos and I will turn them into a secure shareable link."),
	str(AskLinkExpiry, "⏳ How long should the link stay active? Pick an option below."),
	str(AskDeleteAfter, "🧹 How long after delivery should the media be deleted automatically?"),
	str(AskPasscodeChoice, "🔐 Protect this link with a passcode?"),
	str(AskPasscode, "🔑 Send the passcode (4 to 64 characters)."),
	str(PasscodeLength, "❌ The passcode must be 4 to 64 characters. Try again."),
	str(LinkReady, "✅ Your share link is ready!\n%s\n⏳ Link lifetime: %s\n🧹 Deleted after delivery: %s"),
	str(LinkExpired, "❌ Sorry, this share link has expired."),
	str(LinkRevoked, "❌ This share link has been revoked."),
	str(LinkNotFound, "❌ This share link does not exist."),
	str(EnterPasscode, "🔐 This link is protected. Send the passcode."),
	{PasscodeDenied, plural.Selectf(1, "%d",
		plural.One, "❌ Wrong passcode. %d try left.",
		plural.Other, "❌ Wrong passcode. %d tries left.")},
	{PasscodeLocked, plural.Selectf(1, "%d",
		plural.One, "⛔ Too many wrong attempts. Try again in %d second.",
		plural.Other, "⛔ Too many wrong attempts. Try again in %d seconds.")},
	str(DeliveryNotice, "⚠️ Remember, these files will be deleted automatically after %s."),
	str(DeliveryKept, "ℹ️ These files will not be deleted automatically."),
	str(DeletionWarning, "⏰ These files will be deleted in one minute."),
	str(DeletionDone, "🧹 The delivered files have been deleted."),
	str(EmptyBundle, "❌ Nothing to share. Send some media first."),
	str(ForwardedFrom, "📨 From user %s"),
	str(NotAdmin, "❌ Sorry, you are not an authorized admin."),
	str(BroadcastDone, "✅ Broadcast sent to %d users, %d failed."),
	str(AdminMessage, "📢 Message from the admin"),
	str(ComposeCancelled, "🗑 Cancelled. The media you sent was discarded."),
	str(NothingToCancel, "ℹ️ There is nothing to cancel."),
	str(ChoiceYes, "Yes"),
	str(ChoiceNo, "No"),

	str(unlimited, "unlimited"),
	str(several, "several years"),
	{years, plural.Selectf(1, "%d", plural.One, "%d year", plural.Other, "%d years")},
	{months, plural.Selectf(1, "%d", plural.One, "%d month", plural.Other, "%d months")},
	{days, plural.Selectf(1, "%d", plural.One, "%d day", plural.Other, "%d days")},
	{hours, plural.Selectf(1, "%d", plural.One, "%d hour", plural.Other, "%d hours")},
	{seconds, plural.Selectf(1, "%d", plural.One, "%d second", plural.Other, "%d seconds")},
}

var bengali = []entry{
	str(Welcome, "👋 হ্যালো!\nএখানে আপনার ফাইল, ছবি বা ভিডিও পাঠান।\nআমি সেগুলো থেকে একটি নিরাপদ শেয়ারযোগ্য লিঙ্ক তৈরি করে দেব।"),
	str(AskLinkExpiry, "⏳ লিঙ্ক কতদিন সক্রিয় থাকবে? নিচ থেকে একটি অপশন বেছে নিন।"),
	str(AskDeleteAfter, "🧹 ফাইল/মিডিয়া পাঠানোর পর কতক্ষণ পরে স্বয়ংক্রিয়ভাবে মুছে যাবে?"),
	str(AskPasscodeChoice, "🔐 লিঙ্কটি কি পাসকোড দিয়ে সুরক্ষিত করবেন?"),
	str(AskPasscode, "🔑 পাসকোড পাঠান (৪ থেকে ৬৪ অক্ষর)।"),
	str(PasscodeLength, "❌ পাসকোড ৪ থেকে ৬৪ অক্ষরের হতে হবে। আবার চেষ্টা করুন।"),
	str(LinkReady, "✅ আপনার শেয়ার লিঙ্ক তৈরি হয়ে গেছে!\n%s\n⏳ লিঙ্কের মেয়াদ: %s\n🧹 ডেলিভারির পর মুছবে: %s"),
	str(LinkExpired, "❌ দুঃখিত, এই শেয়ার লিঙ্কটির মেয়াদ শেষ হয়ে গেছে।"),
	str(LinkRevoked, "❌ এই শেয়ার লিঙ্কটি বাতিল করা হয়েছে।"),
	str(LinkNotFound, "❌ এই শেয়ার লিঙ্কটির কোনো অস্তিত্ব নেই।"),
	str(EnterPasscode, "🔐 এই লিঙ্কটি সুরক্ষিত। পাসকোড পাঠান।"),
	str(PasscodeDenied, "❌ ভুল পাসকোড। আর %d বার চেষ্টা করা যাবে।"),
	str(PasscodeLocked, "⛔ অনেকবার ভুল হয়েছে। %d সেকেন্ড পর আবার চেষ্টা করুন।"),
	str(DeliveryNotice, "⚠️ মনে রাখবেন, এই ফাইলগুলো %s পর স্বয়ংক্রিয়ভাবে মুছে যাবে।"),
	str(DeliveryKept, "ℹ️ এই ফাইলগুলো স্বয়ংক্রিয়ভাবে মুছবে না।"),
	str(DeletionWarning, "⏰ এক মিনিট পর ফাইলগুলো মুছে যাবে।"),
	str(DeletionDone, "🧹 পাঠানো ফাইলগুলো মুছে ফেলা হয়েছে।"),
	str(EmptyBundle, "❌ শেয়ার করার মতো কিছু নেই। আগে মিডিয়া পাঠান।"),
	str(ForwardedFrom, "📨 ইউজার %s থেকে"),
	str(NotAdmin, "❌ ক্ষমা প্রার্থনা, আপনি অনুমোদিত সুপার এডমিন নন।"),
	str(BroadcastDone, "✅ আপনার বার্তা %d জন ইউজারকে পাঠানো হয়েছে, %d ব্যর্থ।"),
	str(AdminMessage, "📢 এডমিনের বার্তা"),
	str(ComposeCancelled, "🗑 বাতিল করা হয়েছে। পাঠানো মিডিয়া বাদ দেওয়া হয়েছে।"),
	str(NothingToCancel, "ℹ️ বাতিল করার মতো কিছু নেই।"),
	str(ChoiceYes, "হ্যাঁ"),
	str(ChoiceNo, "না"),

	str(unlimited, "আনলিমিটেড"),
	str(several, "কয়েক বছর"),
	str(years, "%d বছর"),
	str(months, "%d মাস"),
	str(days, "%d দিন"),
	str(hours, "%d ঘণ্টা"),
	str(seconds, "%d সেকেন্ড"),
}

// Localizer renders keys for one locale.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a localizer for the closest supported match to locale. An
// empty locale means English.
func New(locale string) *Localizer {
	tag := English
	if locale != "" {
		matched, _, _ := matcher.Match(language.Make(locale))
		base, _ := matched.Base()
		tag = language.Make(base.String())
	}
	return &Localizer{tag: tag, printer: message.NewPrinter(tag, message.Catalog(cat))}
}

// Supported reports whether locale names a language with its own texts.
func Supported(locale string) bool {
	tag, err := language.Parse(locale)
	if err != nil {
		return false
	}
	_, _, conf := matcher.Match(tag)
	return conf >= language.High
}

func (l *Localizer) Language() language.Tag { return l.tag }

// Get renders key with args.
func (l *Localizer) Get(key string, args ...any) string {
	return l.printer.Sprintf(key, args...)
}

// Lifetime renders a lifetime in the largest unit that divides it exactly:
// years of 365 days, months of 30 days, days, hours, else seconds.
func (l *Localizer) Lifetime(lt models.Lifetime) string {
	if lt.IsUnlimited() {
		return l.Get(unlimited)
	}
	s := lt.Seconds()
	for _, u := range []struct {
		key  string
		size int64
	}{
		{years, Year.Seconds()},
		{months, Month.Seconds()},
		{days, Day.Seconds()},
		{hours, Hour.Seconds()},
	} {
		if s >= u.size && s%u.size == 0 {
			return l.Get(u.key, int(s/u.size))
		}
	}
	return l.Get(seconds, int(s))
}

// PresetLabel names a preset for a choice button. The five year preset
// reads as "several years".
func (l *Localizer) PresetLabel(lt models.Lifetime) string {
	if lt == 5*Year {
		return l.Get(several)
	}
	return l.Lifetime(lt)
}
