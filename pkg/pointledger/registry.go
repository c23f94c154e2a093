package pointledger

import "fmt"

// DefaultCategory returns the built-in registry row for a kind: digital gift
// points carry 60% of a grant, corporate product points the remaining 40%.
// Stores use this when ResolveCategory has to create the row.
func DefaultCategory(kind CategoryKind) (Category, error) {
	switch kind {
	case CategoryDigitalGift:
		return Category{
			Kind:             kind,
			RatioBasisPoints: defaultDigitalGiftRatioBP,
			Description:      defaultDigitalGiftDescription,
			Active:           true,
		}, nil
	case CategoryCorporateProduct:
		return Category{
			Kind:             kind,
			RatioBasisPoints: defaultCorporateProductRatioBP,
			Description:      defaultCorporateProductDescription,
			Active:           true,
		}, nil
	}
	return Category{}, fmt.Errorf("%w: %q", ErrInvalidCategoryKind, kind)
}
