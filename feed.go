package gallows

// Expand the pre-cache list with the entries of RSS/Atom feeds published
// on the origin.

import (
	"bytes"
	"context"
	"net/http"
	"net/url"

	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
)

// FeedAssets returns assets followed by each feed path and every item link
// of those feeds that lives on origin. Entries resolving to the same URL
// appear once, first occurrence wins.
func FeedAssets(ctx context.Context, f Fetcher, origin *url.URL, assets, feeds []string) ([]string, error) {
	out := make([]string, 0, len(assets))
	seen := make(map[string]bool)
	add := func(asset string) {
		ref, err := url.Parse(asset)
		if err != nil {
			// Left for Install to report.
			out = append(out, asset)
			return
		}
		key := pageKey(origin.ResolveReference(ref))
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, asset)
	}

	for _, a := range assets {
		add(a)
	}

	fp := gofeed.NewParser()
	for _, path := range feeds {
		ref, err := url.Parse(path)
		if err != nil {
			return nil, errors.Wrapf(err, "feed %s", path)
		}
		u := origin.ResolveReference(ref)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, errors.Wrapf(err, "feed %s", path)
		}
		page, err := f.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		if !page.OK() {
			return nil, errors.Errorf("feed %s: status %d", u, page.Status)
		}

		feed, err := fp.Parse(bytes.NewReader(page.Body))
		if err != nil {
			return nil, errors.Wrapf(err, "parse feed %s", u)
		}
		add(path)
		for _, item := range feed.Items {
			if item.Link == "" {
				continue
			}
			link, err := u.Parse(item.Link)
			if err != nil || link.Scheme != origin.Scheme || link.Host != origin.Host {
				continue
			}
			add(link.String())
		}
	}

	return out, nil
}
