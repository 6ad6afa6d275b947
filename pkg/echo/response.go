package echo

// Pair is a (name, value) tuple encoded as a two-element JSON array, which
// keeps duplicate names and their order.
type Pair [2]string

func (p Pair) Name() string  { return p[0] }
func (p Pair) Value() string { return p[1] }

type OS struct {
	Hostname string `json:"hostname"`
}

type Response struct {
	Path     string `json:"path"`
	Headers  []Pair `json:"headers"`
	Method   string `json:"method"`
	Body     string `json:"body"`
	Cookies  []Pair `json:"cookies"`
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	Protocol string `json:"protocol"`
	Query    string `json:"query"`
	OS       OS     `json:"os"`
}
