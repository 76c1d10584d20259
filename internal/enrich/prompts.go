package enrich

import (
	"fmt"
	"strings"
)

func websiteForPrompt(normalizedDomain string) string {
	d := strings.TrimSpace(strings.ToLower(normalizedDomain))
	if d == "" {
		return "(unknown website)"
	}
	return "https://" + d
}

func taglinePrompt(normalizedDomain string) string {
	return fmt.Sprintf(`For the company (%s) provide the tagline.

Task: Provide the company's official tagline or slogan.

Rules:
- Use web search.
- Return the company's actual marketing tagline/slogan.
- A sentence fragment is acceptable.
- Do NOT return navigation labels, promotional text, or legal text.
- Do NOT hallucinate or embellish. Accuracy is paramount.
- If no tagline is found, return empty string.
- Output STRICT JSON only.

Return:
{ "tagline": "..." }`, websiteForPrompt(normalizedDomain))
}

func industriesPrompt(normalizedDomain string) string {
	return fmt.Sprintf(`For the company (%s) identify the industries.

Task: Identify the company's industries.

Rules:
- Use web search.
- Return an array of industries/categories that best describe what the company makes or sells.
- Provide not industry codes but the type of business they do.
- Be thorough and complete in identifying all relevant industries.
- Avoid store navigation terms (e.g. "New Arrivals", "Shop", "Sale") and legal terms.
- Prefer industry labels that can be mapped to standard business taxonomies.
- No guessing or hallucinating. Only report verified information.
- Output STRICT JSON only.

Return:
{ "industries": ["Industry 1", "Industry 2", "..."] }`, websiteForPrompt(normalizedDomain))
}

func headquartersPrompt(normalizedDomain string) string {
	return fmt.Sprintf(`For the company (%s) determine the headquarters location.

Task: Determine the company's HEADQUARTERS location.

Rules:
- Use web search (do not rely only on the company website).
- Do deep dives for HQ location if necessary.
- Having the actual city within the United States is crucial. Be accurate.
- Use initials for state or province (e.g., "Austin, TX" not "Austin, Texas").
- Format: "City, ST" for US/Canada, "City, Country" for international.
- If only country is known, return "Country".
- No explanatory info, just the location.
- Prefer authoritative sources like LinkedIn, official filings, reputable business directories.
- No guessing or hallucinating. Only report verified information.
- Output STRICT JSON only.

Return:
{
  "headquarters_location": "...",
  "location_source_urls": { "hq_source_urls": ["https://...", "https://..."] }
}`, websiteForPrompt(normalizedDomain))
}

func manufacturingPrompt(normalizedDomain string) string {
	return fmt.Sprintf(`For the company (%s) determine the manufacturing locations.

Task: Determine the company's MANUFACTURING locations.

Rules:
- Use web search (do not rely only on the company website).
- Do deep dives for manufacturing locations if necessary.
- Having the actual cities within the United States is crucial. Be accurate.
- Use initials for state or province (e.g., "Los Angeles, CA" not "Los Angeles, California").
- Format: "City, ST" for US/Canada, "City, Country" for international.
- Return an array of one or more locations. Include multiple cities when applicable.
- If only country-level is available, country-only entries are acceptable.
- No explanatory info, just locations.
- If manufacturing is not publicly disclosed after thorough searching, return ["Not disclosed"].
- Provide the supporting URLs you used for the manufacturing determination.
- No guessing or hallucinating. Only report verified information.
- Output STRICT JSON only.

Return:
{
  "manufacturing_locations": ["City, ST", "City, Country"],
  "location_source_urls": { "mfg_source_urls": ["https://...", "https://..."] }
}`, websiteForPrompt(normalizedDomain))
}

func keywordsPrompt(normalizedDomain string) string {
	return fmt.Sprintf(`For the company (%s) provide the product keywords.

Task: Provide an EXHAUSTIVE, COMPLETE, and ALL-INCLUSIVE list of the PRODUCTS (SKUs/product names/product lines) this company sells.

Hard rules:
- Use web search (not just the company website).
- Keywords should be exhaustive, complete and all-inclusive: ALL the products that the company produces.
- Return ONLY products/product lines. Do NOT include navigation/UX taxonomy such as: Shop All, Collections, New, Best Sellers, Sale, Account, Cart, Store Locator, FAQ, Shipping, Returns, Contact, About, Blog.
- Do NOT include generic category labels unless they are actual product lines.
- The list should be materially more complete than the top nav.
- If you are uncertain about completeness, expand the search and keep going until you can either:
  (a) justify completeness, OR
  (b) explicitly mark it incomplete with a reason.
- Do NOT return a short/partial list without marking it incomplete.
- No guessing or hallucinating. Only report verified product information.
- Output STRICT JSON only.

Return:
{
  "product_keywords": ["Product 1", "Product 2", "..."],
  "completeness": "complete" | "incomplete",
  "incomplete_reason": null | "..."
}`, websiteForPrompt(normalizedDomain))
}

func reviewsPrompt(companyName, normalizedDomain string, excludedHosts []string) string {
	prompt := fmt.Sprintf(`For the company %s (%s) find third-party reviews.

Task: Find at least 3 unique third-party reviews about this company or its products.

CRITICAL REQUIREMENTS:
- Each review MUST actually be about %q - verify the page content mentions this company
- Every URL MUST be functional and load correctly - test each one
- Do NOT return 404 pages, redirects, or paywalled content
- Do NOT hallucinate or invent URLs - accuracy is paramount

Review Sources (any mix acceptable):
- YouTube videos featuring this company or its products
- Magazine articles or blog posts reviewing this company
- News coverage or interviews about this company

For YouTube videos:
- The video MUST exist and be publicly accessible
- The video title and content MUST mention %q or its products
- Do NOT return music videos, unrelated content, or deleted videos
- Provide the full watch URL (not playlist or channel URLs)

For blogs/magazines:
- The article MUST specifically review or feature %q
- Verify the page loads and contains actual content about this company
- Prefer established publications over obscure blogs

Provide 20-30 candidates to ensure sufficient verified results.
Exclude sources from these domains: %s

For each review, include:
- source_name: Exact channel name (YouTube) or publication name (blog)
- source_url: Direct URL to the video/article (NOT search results)
- category: "youtube" or "blog"
- title: Exact title of the video/article (do NOT paraphrase)
- excerpt: Direct quote from the review (1-2 sentences, no ellipses)

Output STRICT JSON only:
{
  "reviews_url_candidates": [
    {
      "source_url": "https://www.youtube.com/watch?v=...",
      "source_name": "Channel Name",
      "category": "youtube",
      "title": "Exact Video Title",
      "excerpt": "Direct quote from the review..."
    }
  ]
}`,
		strings.TrimSpace(companyName), websiteForPrompt(normalizedDomain),
		companyName, companyName, companyName,
		strings.Join(excludedHosts, ", "))
	return prompt
}
