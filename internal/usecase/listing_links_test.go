package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHarvestPDPLinks(t *testing.T) {
	classifier := NewClassifier(DefaultRetailerPolicies())

	t.Run("reads anchors and resolves relative links", func(t *testing.T) {
		raw := `<html><body>
<a href="/p/stanley-quencher/-/A-85978612?preselect=1#lnk=sametab">Stanley</a>
<a href="https://www.target.com/p/owala-freesip/-/A-86437283">Owala</a>
<a href="/c/drinkware/-/N-5xt2n">Drinkware</a>
<a href="/p/stanley-quencher/-/A-85978612">Stanley again</a>
<a href="">empty</a>
</body></html>`

		links := classifier.HarvestPDPLinks(raw, "target.com")

		assert.Equal(t, []string{
			"https://www.target.com/p/stanley-quencher/-/A-85978612",
			"https://www.target.com/p/owala-freesip/-/A-86437283",
		}, links)
	})

	t.Run("falls back to plain text URLs", func(t *testing.T) {
		raw := "Results: https://www.target.com/p/kettle/-/A-1?ref=x, https://www.target.com/c/kitchen " +
			"and https://www.amazon.com/Kettle/dp/B01 and https://www.target.com/p/mug/-/A-2."

		links := classifier.HarvestPDPLinks(raw, "target.com")

		assert.Equal(t, []string{
			"https://www.target.com/p/kettle/-/A-1",
			"https://www.target.com/p/mug/-/A-2",
		}, links)
	})

	t.Run("unknown retailer yields nothing", func(t *testing.T) {
		assert.Empty(t, classifier.HarvestPDPLinks(`<a href="https://www.walmart.com/ip/1">x</a>`, "walmart.com"))
	})

	t.Run("listing without PDP links yields nothing", func(t *testing.T) {
		assert.Empty(t, classifier.HarvestPDPLinks(`<a href="/c/kitchen">Kitchen</a>`, "target.com"))
	})
}
