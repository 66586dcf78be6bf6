package detect

// contentSelectors locate the primary content region, highest priority first.
// Semantic elements win over conventional class/id patterns.
var contentSelectors = []string{
	"main",
	"article",
	"[role=\"main\"]",
	"#content",
	"#main-content",
	"#main",
	".content",
	".main-content",
	".post-content",
	".entry-content",
	".article-content",
	".article-body",
	".page-content",
	"#bodyContent",
}

// exclusionSelectors mark navigation chrome whose links are filtered out.
var exclusionSelectors = []string{
	"nav",
	"header",
	"footer",
	"aside",
	"[role=\"navigation\"]",
	"[role=\"banner\"]",
	"[role=\"complementary\"]",
	"[role=\"contentinfo\"]",
	".nav",
	".navbar",
	".navigation",
	".menu",
	".sidebar",
	".breadcrumb",
	".breadcrumbs",
	"#nav",
	"#navbar",
	"#menu",
	"#sidebar",
	"#footer",
	"#header",
}
