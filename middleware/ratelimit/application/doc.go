// Package application contém os casos de uso (regras de aplicação) para o
// controle de admissão e o limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Admit(key) retorna uma Decision (allow/deny + retry-after).
package application
