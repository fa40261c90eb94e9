package publish

// ResolveLinks fills object_key and content_type of every linking item from
// the item its link_to names. Only direct targets are considered; a target
// which is itself an unresolved link counts as missing. The input slice is not
// modified.
func ResolveLinks(items []Item) ([]Item, error) {
	byURI := make(map[string]Item, len(items))
	for _, item := range items {
		byURI[item.WebURI] = item
	}

	resolved := make([]Item, len(items))
	for i, item := range items {
		if item.IsLink() {
			target, ok := byURI[item.LinkTo]
			if !ok || target.ObjectKey == "" {
				return nil, &UnresolvedLinkError{WebURI: item.WebURI, LinkTo: item.LinkTo}
			}
			item.ObjectKey = target.ObjectKey
			item.ContentType = target.ContentType
		}
		resolved[i] = item
	}

	return resolved, nil
}
