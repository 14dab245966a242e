package transport_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/taraaggoun/megaphone/storage"
	"github.com/taraaggoun/megaphone/transport"
)

var _ = Describe("Admin", func() {
	var (
		store *storage.InmemoryStore
		admin *transport.Admin
	)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, err := http.NewRequest(http.MethodGet, path, nil)
		Expect(err).To(Succeed())

		admin.Handler().ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		store = storage.NewInmemoryStore(storage.Options{})
		admin = transport.NewAdmin(transport.Options{Host: "127.0.0.1", Store: store})

		id, err := store.RegisterUser(mustPseudo("alice"))
		Expect(err).To(Succeed())
		Expect(store.CreatePost(id, 0, []byte("hi"))).To(Equal(uint16(1)))
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("answers pings", func() {
		w := get("/ping")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("pong"))
	})

	It("reports store statistics", func() {
		w := get("/stats")
		Expect(w.Code).To(Equal(http.StatusOK))

		body := w.Body.Bytes()
		Expect(gjson.GetBytes(body, "users").Int()).To(Equal(int64(1)))
		Expect(gjson.GetBytes(body, "feeds").Int()).To(Equal(int64(1)))
		Expect(gjson.GetBytes(body, "posts").Int()).To(Equal(int64(1)))
	})

	It("dumps the store snapshot", func() {
		w := get("/state")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(gjson.GetBytes(w.Body.Bytes(), "users.0.pseudo").String()).To(Equal("alice"))
		Expect(gjson.GetBytes(w.Body.Bytes(), "feeds.#").Int()).To(Equal(int64(1)))
	})
})
