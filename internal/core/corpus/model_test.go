package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_IsEmpty(t *testing.T) {
	assert.True(t, Filter{}.IsEmpty())
	assert.False(t, Filter{Jurisdiction: FederalJurisdiction}.IsEmpty())
	assert.False(t, Filter{LegalDomain: DomainCivil}.IsEmpty())
	assert.False(t, Filter{Kind: KindLegislation}.IsEmpty())
}

func TestFilter_Matches(t *testing.T) {
	doc := &Document{Jurisdiction: "GE", LegalDomain: DomainFiscal, Kind: KindLegislation}

	assert.True(t, Filter{}.Matches(doc))
	assert.True(t, Filter{Jurisdiction: "GE", LegalDomain: DomainFiscal}.Matches(doc))
	assert.False(t, Filter{Jurisdiction: FederalJurisdiction}.Matches(doc))
	assert.False(t, Filter{Kind: KindJurisprudence}.Matches(doc))
}
