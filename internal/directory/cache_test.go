package directory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/statuskeeper/internal/types"
)

func TestResolveFallbacks(t *testing.T) {
	c := New()

	n := c.Resolve("4915100000000@s.whatsapp.net")
	assert.Equal(t, "4915100000000", n.DisplayName)
	assert.Equal(t, "4915100000000", n.IDTail)

	c.ObserveNotify("4915100000000@s.whatsapp.net", "Ali ")
	assert.Equal(t, "Ali", c.Resolve("4915100000000@s.whatsapp.net").DisplayName)

	c.Upsert([]types.Contact{{ID: "4915100000000@s.whatsapp.net", Name: "Ali Khan"}})
	n = c.Resolve("4915100000000@s.whatsapp.net")
	assert.Equal(t, "Ali Khan", n.DisplayName)
	assert.Equal(t, "4915100000000", n.IDTail)
}

func TestUpsertLastWriteWins(t *testing.T) {
	c := New()
	c.Upsert([]types.Contact{{ID: "a@x", Name: "First"}})
	c.Upsert([]types.Contact{{ID: "a@x", Name: "Second"}})
	assert.Equal(t, "Second", c.Resolve("a@x").DisplayName)

	// Empty fields keep the previous value.
	c.Upsert([]types.Contact{{ID: "a@x", Notify: "nick"}})
	assert.Equal(t, "Second", c.Resolve("a@x").DisplayName)

	// Entries without an id are dropped.
	c.Upsert([]types.Contact{{Name: "ghost"}})
	assert.Equal(t, 1, c.Len())
}

func TestResolveEmpty(t *testing.T) {
	n := New().Resolve("")
	assert.Equal(t, "", n.DisplayName)
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Upsert([]types.Contact{{ID: fmt.Sprintf("%d@x", j), Name: fmt.Sprintf("n%d", i)}})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Resolve(fmt.Sprintf("%d@x", j))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, c.Len())
}
