package pipeline

import (
	"fmt"
	"time"

	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// Export query composition. The query grammar belongs to the source
// platform; the core only assembles these strings and sends them opaquely.
// Each template takes one argument: the search filter, empty for full syncs.

const (
	productsQueryTmpl = `{ products%s { edges { node { id title handle status publishedOnCurrentPublication variants { edges { node { id sku price inventoryItem { id } } } } media { edges { node { ... on MediaImage { id image { url } } } } } } } } }`

	inventoryQueryTmpl = `{ inventoryItems%s { edges { node { id inventoryLevels { edges { node { id available location { id } } } } } } } }`

	collectionsQueryTmpl = `{ collections%s { edges { node { id title handle publishedOnCurrentPublication productsCount } } } }`

	productIDAuditQueryTmpl = `{ products%s { edges { node { id publishedOnCurrentPublication variants { edges { node { id } } } } } } }`

	collectionIDAuditQueryTmpl = `{ collections%s { edges { node { id publishedOnCurrentPublication } } } }`
)

// buildQuery fills a query template with the incremental filter a partial
// sync applies. Full syncs and id audits enumerate everything.
func buildQuery(tmpl string, style status.SyncStyle, since *time.Time) string {
	filter := ""
	if style == status.SyncStylePartial && since != nil {
		filter = fmt.Sprintf(`(query: "updated_at:>=%s")`, since.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(tmpl, filter)
}
