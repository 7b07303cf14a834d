// Package e2e runs whole-pipeline retrieval over a generated handbook corpus.
package e2e

import (
	"fmt"
	"strings"

	"github.com/hyperjump/shiru/internal/models"
)

// Page is one handbook page of the corpus.
type Page struct {
	ID      string
	Title   string
	Content string
}

// QueryCase is a question and the pages that must appear among its results.
type QueryCase struct {
	Question    string
	ExpectedIDs []string
	Description string
}

// Corpus holds the pages and the query cases built from them.
type Corpus struct {
	Pages []Page
	Cases []QueryCase
}

type topic struct {
	title   string
	phrase  string
	content string
}

var topics = []topic{
	{"Deploy Windows", "deploy window Thursday", "Production changes ship inside the deploy window Thursday afternoons. Outside the deploy window Thursday slot a change needs a second approver."},
	{"Key Rotation", "rotate signing keys", "We rotate signing keys every ninety days. To rotate signing keys run the keyring job and publish the new public half."},
	{"On-Call Handover", "handover checklist pager", "Each shift ends with the handover checklist pager review. The handover checklist pager notes list open alerts and muted monitors."},
	{"Postgres Failover", "promote the replica", "When the primary is lost we promote the replica with the failover script. Promote the replica only after fencing the old primary."},
	{"Backup Restore Drill", "quarterly restore drill", "Backups are proven by the quarterly restore drill. The quarterly restore drill restores last night's snapshot into a scratch cluster."},
	{"Feature Flags", "flag cleanup sprint", "Stale toggles are removed during the flag cleanup sprint. The flag cleanup sprint runs in the last week of each quarter."},
	{"Access Reviews", "access review spreadsheet", "Managers sign off the access review spreadsheet twice a year. The access review spreadsheet lists every grant per system."},
	{"Cost Reports", "monthly cloud invoice", "Finance splits the monthly cloud invoice by team tag. Untagged spend on the monthly cloud invoice is charged to platform."},
	{"Incident Severity", "severity one incident", "A severity one incident pages the whole rotation. Declare a severity one incident when customers cannot log in."},
	{"Postmortems", "blameless postmortem template", "Write up outages with the blameless postmortem template. The blameless postmortem template asks for a timeline and follow-ups."},
	{"Release Notes", "customer facing changelog", "Every release updates the customer facing changelog. Keep the customer facing changelog free of internal ticket numbers."},
	{"Dependency Updates", "renovate bot batches", "Library bumps arrive as renovate bot batches on Mondays. Merge renovate bot batches once the suite is green."},
	{"Log Retention", "retain logs thirty days", "Application logs are kept hot for a week and we retain logs thirty days in cold storage. Audit trails are excluded from retain logs thirty days."},
	{"Secrets Storage", "vault transit engine", "Service credentials live behind the vault transit engine. Never copy secrets out of the vault transit engine into env files."},
	{"TLS Certificates", "certificate expiry alert", "A certificate expiry alert fires fourteen days ahead. Renew through the ACME client when the certificate expiry alert fires."},
	{"Load Testing", "soak test overnight", "Large changes get a soak test overnight against staging. The soak test overnight must hold p99 under the budget."},
	{"Rate Limits", "token bucket per tenant", "Public endpoints enforce a token bucket per tenant. Raise the token bucket per tenant only with a support ticket."},
	{"Schema Migrations", "expand then contract", "Database changes follow expand then contract. With expand then contract old and new code run against one schema."},
	{"Queue Backlog", "dead letter queue", "Messages that fail five times land in the dead letter queue. Drain the dead letter queue after fixing the consumer."},
	{"Canary Releases", "five percent canary", "New builds take a five percent canary for an hour. Roll back if the five percent canary raises the error rate."},
	{"Mobile Builds", "app store review", "iOS releases wait on app store review. Plan two days for app store review before a launch."},
	{"Data Exports", "nightly warehouse export", "Product tables flow to analytics through the nightly warehouse export. The nightly warehouse export skips columns tagged personal."},
	{"Privacy Requests", "erasure request queue", "Deletion asks enter the erasure request queue. The erasure request queue must be emptied within thirty days."},
	{"Laptop Setup", "bootstrap script laptop", "New hires run the bootstrap script laptop installer on day one. The bootstrap script laptop installer enrolls disk encryption."},
	{"Code Review", "two approvals required", "Protected branches have two approvals required. Hotfixes still need two approvals required after the fact."},
	{"Branching", "short lived branches", "We merge to main through short lived branches. Short lived branches should not outlive a week."},
	{"Observability", "golden signals dashboard", "Each service owns a golden signals dashboard. The golden signals dashboard tracks latency traffic errors and saturation."},
	{"Tracing", "trace sampling ratio", "Tracing keeps the trace sampling ratio at one percent. Bump the trace sampling ratio while debugging a single route."},
	{"Caching", "cache stampede lock", "Hot keys are guarded with a cache stampede lock. The cache stampede lock lets one caller refill the entry."},
	{"Search Cluster", "reindex alias swap", "Search mappings change through a reindex alias swap. The reindex alias swap keeps reads on the old index until the copy ends."},
	{"DNS Changes", "lower the TTL", "Before moving a record lower the TTL a day early. Forgetting to lower the TTL stretches the cutover."},
	{"CDN Purges", "purge by surrogate key", "Static assets are invalidated with purge by surrogate key. Avoid full purges and purge by surrogate key instead."},
	{"Chaos Days", "game day scenario", "Twice a year the team runs a game day scenario. A game day scenario breaks one dependency on purpose."},
	{"Budget Alerts", "spend anomaly alert", "Billing sends a spend anomaly alert to the owning team. Investigate a spend anomaly alert within one business day."},
	{"Vendor Reviews", "security questionnaire vendor", "Each new tool needs a security questionnaire vendor review. Legal files the security questionnaire vendor answers."},
	{"Onboarding Buddy", "buddy for first month", "Every hire gets a buddy for first month. The buddy for first month pairs on the first deploy."},
	{"Interview Loop", "structured interview rubric", "Interviewers score with the structured interview rubric. Submit the structured interview rubric before the debrief."},
	{"Time Off", "holiday calendar swap", "Coverage gaps are fixed with a holiday calendar swap. Record every holiday calendar swap in the rotation tool."},
	{"Accessibility", "screen reader audit", "Major UI changes get a screen reader audit. The screen reader audit covers focus order and labels."},
	{"Localization", "translation memory export", "Strings go to translators via a translation memory export. Run the translation memory export after string freeze."},
}

// BuildCorpus returns one page per topic and one query case per page. Each page carries a
// phrase no other page uses, so its query has a single right answer.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	for i, t := range topics {
		id := fmt.Sprintf("handbook-%02d", i+1)
		c.Pages = append(c.Pages, Page{ID: id, Title: t.title, Content: t.content})
		c.Cases = append(c.Cases, QueryCase{
			Question:    t.phrase,
			ExpectedIDs: []string{id},
			Description: fmt.Sprintf("%q finds %s", t.phrase, id),
		})
	}
	return c
}

func containsPhrase(p Page, phrase string) bool {
	return strings.Contains(strings.ToLower(p.Title+" "+p.Content), strings.ToLower(phrase))
}

// Documents converts the pages to documents whose source is the page id.
func (c *Corpus) Documents() []models.Document {
	out := make([]models.Document, len(c.Pages))
	for i, p := range c.Pages {
		out[i] = models.Document{
			Text: p.Title + "\n\n" + p.Content,
			Metadata: map[string]any{
				models.MetaSource: p.ID,
				models.MetaTitle:  p.Title,
			},
		}
	}
	return out
}
