package facts

import "testing"

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []Fact
	}{
		{
			"name",
			"Привет, меня зовут Сергей",
			[]Fact{{Kind: "fact", Content: "Имя: Сергей"}},
		},
		{
			"age",
			"мне 34 года, кстати",
			[]Fact{{Kind: "fact", Content: "Возраст: 34"}},
		},
		{
			"preference stops at punctuation",
			"я люблю кофе по утрам. А ещё сплю долго",
			[]Fact{{Kind: "preference", Content: "Любит: кофе по утрам"}},
		},
		{
			"project",
			"сейчас работаю над проектом анимара",
			[]Fact{{Kind: "project", Content: "Проект: анимара"}},
		},
		{
			"plan",
			"я планирую поехать в горы в августе",
			[]Fact{{Kind: "plan", Content: "Планирует: поехать в горы в августе"}},
		},
		{
			"multiple patterns in one turn",
			"меня зовут Аня, я увлекаюсь керамикой",
			[]Fact{
				{Kind: "fact", Content: "Имя: Аня"},
				{Kind: "hobby", Content: "Хобби: керамикой"},
			},
		},
		{
			"nothing durable",
			"какая сегодня погода?",
			nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Extract(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("fact[%d] = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}
